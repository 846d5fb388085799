package calendar

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"ledger-backend/internal/models"
)

const dateOnlyLayout = "20060102"

// ParseBlocks extracts busy intervals from an iCal feed. Cancelled events are
// skipped. Date-only values are read as midnight in loc and an event with no
// end lasts one day.
func ParseBlocks(unitID string, data []byte, loc *time.Location) ([]models.CalendarBlock, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid calendar feed: %w", err)
	}

	seen := make(map[string]bool)
	var blocks []models.CalendarBlock
	for _, event := range cal.Events() {
		if status := event.GetProperty(ics.ComponentPropertyStatus); status != nil &&
			strings.EqualFold(status.Value, "CANCELLED") {
			continue
		}

		start, allDay, err := eventTime(event, ics.ComponentPropertyDtStart, loc)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", event.Id(), err)
		}
		end, _, err := eventTime(event, ics.ComponentPropertyDtEnd, loc)
		if err != nil || !end.After(start) {
			if allDay {
				end = start.AddDate(0, 0, 1)
			} else {
				end = start.Add(time.Hour)
			}
		}

		uid := event.Id()
		if uid == "" {
			uid = fmt.Sprintf("anon-%d", start.Unix())
		}
		key := uid + "/" + start.UTC().Format(time.RFC3339)
		if seen[key] {
			continue
		}
		seen[key] = true

		block := models.CalendarBlock{UnitID: unitID, UID: uid, Start: start, End: end}
		if summary := event.GetProperty(ics.ComponentPropertySummary); summary != nil {
			block.Summary = summary.Value
		}
		blocks = append(blocks, block)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })
	return blocks, nil
}

func eventTime(event *ics.VEvent, prop ics.ComponentProperty, loc *time.Location) (time.Time, bool, error) {
	p := event.GetProperty(prop)
	if p == nil {
		return time.Time{}, false, fmt.Errorf("missing %s", prop)
	}
	if len(p.Value) == len(dateOnlyLayout) {
		t, err := time.ParseInLocation(dateOnlyLayout, p.Value, loc)
		return t, true, err
	}
	var t time.Time
	var err error
	if prop == ics.ComponentPropertyDtEnd {
		t, err = event.GetEndAt()
	} else {
		t, err = event.GetStartAt()
	}
	return t, false, err
}

// FeedEvent is one busy range written to an exported feed. End is exclusive.
type FeedEvent struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
}

// BuildFeed serializes all-day busy events as an iCal feed
func BuildFeed(name string, events []FeedEvent, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//ledger-backend//unit availability//EN")
	cal.SetName(name)

	for _, e := range events {
		event := cal.AddEvent(e.UID)
		event.SetDtStampTime(stamp)
		event.SetAllDayStartAt(e.Start)
		event.SetAllDayEndAt(e.End)
		event.SetSummary(e.Summary)
	}
	return cal.Serialize()
}
