package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ledger-backend/internal/calendar"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
)

// FeedPublisher stores a rendered feed where external calendars can pull it
type FeedPublisher interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

const feedContentType = "text/calendar; charset=utf-8"

// FeedKey is the object key of a unit's published feed
func FeedKey(unitID string) string {
	return fmt.Sprintf("ical/units/%s.ics", unitID)
}

// SetFeedPublisher enables publishing export feeds to object storage
func (s *OccupancyService) SetFeedPublisher(publisher FeedPublisher) {
	s.publisher = publisher
}

// ExportFeed renders the unit's local bookings as an iCal feed
func (s *OccupancyService) ExportFeed(ctx context.Context, unitID string) (string, error) {
	unit, err := s.units.GetUnit(ctx, unitID)
	if err != nil {
		return "", err
	}

	since := s.zone.DateOnly(s.zone.Now()).AddDate(0, 0, -1)
	bookings, err := s.bookings.ListByUnit(ctx, unit.ID, since)
	if err != nil {
		return "", fmt.Errorf("failed to list bookings: %w", err)
	}

	events := make([]calendar.FeedEvent, 0, len(bookings))
	for _, b := range bookings {
		if b.Status != models.BookingStatusActive && b.Status != models.BookingStatusPendingPayment {
			continue
		}
		events = append(events, calendar.FeedEvent{
			UID:     b.ID + "@ledger-backend",
			Summary: "Booked",
			Start:   b.StartDate,
			End:     b.EndDate,
		})
	}

	name := unit.UnitNumber
	if name == "" {
		name = unit.ID
	}
	return calendar.BuildFeed(name, events, s.zone.Now()), nil
}

// PublishFeeds uploads the export feed of every iCal-mapped unit and returns
// how many were published
func (s *OccupancyService) PublishFeeds(ctx context.Context) (int, error) {
	if s.publisher == nil {
		return 0, nil
	}
	mappings, err := s.mappings.List(ctx, models.ConnectionStyleICal)
	if err != nil {
		return 0, fmt.Errorf("failed to list iCal mappings: %w", err)
	}

	published := 0
	for _, m := range mappings {
		feed, err := s.ExportFeed(ctx, m.UnitID)
		if err != nil {
			s.logger.Warn("failed to render export feed", zap.String("unit_id", m.UnitID), zap.Error(err))
			metrics.FeedPublishTotal.WithLabelValues("failed").Inc()
			continue
		}
		location, err := s.publisher.Put(ctx, FeedKey(m.UnitID), []byte(feed), feedContentType)
		if err != nil {
			s.logger.Warn("failed to publish export feed", zap.String("unit_id", m.UnitID), zap.Error(err))
			metrics.FeedPublishTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.FeedPublishTotal.WithLabelValues("published").Inc()
		s.logger.Debug("export feed published", zap.String("unit_id", m.UnitID), zap.String("location", location))
		published++
	}
	return published, nil
}
