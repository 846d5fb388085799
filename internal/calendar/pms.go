package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledger-backend/internal/models"
)

// PMSClient queries the external property-management system for a room's
// booked state on a given day
type PMSClient struct {
	baseURL string
	apiKey  string
	getter  *httpGetter
}

func NewPMSClient(baseURL, apiKey string, client *http.Client, cfg RetryConfig) *PMSClient {
	return &PMSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		getter:  newHTTPGetter(client, cfg, "pms"),
	}
}

type pmsDayResponse struct {
	Date       string `json:"date"`
	Booked     bool   `json:"booked"`
	BookingRef string `json:"booking_ref"`
}

// DayStatus returns whether the mapped room is booked on day
func (c *PMSClient) DayStatus(ctx context.Context, mapping *models.UnitExternalMapping, day time.Time) (bool, string, error) {
	if mapping.ExternalPropertyID == nil {
		return false, "", fmt.Errorf("mapping for unit %s has no external property id", mapping.UnitID)
	}

	path := fmt.Sprintf("%s/properties/%s/calendar", c.baseURL, url.PathEscape(*mapping.ExternalPropertyID))
	q := url.Values{}
	q.Set("date", day.Format("2006-01-02"))
	if mapping.ExternalRoomID != nil {
		q.Set("room_id", *mapping.ExternalRoomID)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	body, err := c.getter.get(ctx, path+"?"+q.Encode(), header)
	if err != nil {
		return false, "", err
	}

	var resp pmsDayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, "", fmt.Errorf("invalid PMS calendar response: %w", err)
	}
	return resp.Booked, resp.BookingRef, nil
}
