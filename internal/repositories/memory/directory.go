package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledger-backend/internal/apperrors"
	"ledger-backend/internal/models"
)

// Directory holds units and bookings, the reference data the engine reads
type Directory struct {
	mu       sync.Mutex
	units    map[string]*models.Unit
	bookings map[string]*models.Booking
}

func NewDirectory() *Directory {
	return &Directory{
		units:    make(map[string]*models.Unit),
		bookings: make(map[string]*models.Booking),
	}
}

// PutUnit adds or replaces a unit
func (d *Directory) PutUnit(u *models.Unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *u
	d.units[u.ID] = &c
}

// PutBooking adds or replaces a booking
func (d *Directory) PutBooking(b *models.Booking) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *b
	d.bookings[b.ID] = &c
}

func (d *Directory) GetUnit(_ context.Context, id string) (*models.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.units[id]
	if !ok {
		return nil, apperrors.NotFound("unit", id)
	}
	c := *u
	return &c, nil
}

func (d *Directory) ListActiveUnits(_ context.Context, buildingID string) ([]*models.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var units []*models.Unit
	for _, u := range d.units {
		if !u.Active || (buildingID != "" && u.BuildingID != buildingID) {
			continue
		}
		c := *u
		units = append(units, &c)
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].BuildingID == units[j].BuildingID {
			return units[i].UnitNumber < units[j].UnitNumber
		}
		return units[i].BuildingID < units[j].BuildingID
	})
	return units, nil
}

func (d *Directory) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bookings[id]
	if !ok {
		return nil, apperrors.NotFound("booking", id)
	}
	c := *b
	return &c, nil
}

func (d *Directory) FindCovering(_ context.Context, unitID string, day time.Time) (*models.Booking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.bookings {
		if b.UnitID == unitID && b.Covers(day) {
			c := *b
			return &c, nil
		}
	}
	return nil, nil
}

func (d *Directory) ListByUnit(_ context.Context, unitID string, endingAfter time.Time) ([]*models.Booking, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var list []*models.Booking
	for _, b := range d.bookings {
		if b.UnitID != unitID || !b.EndDate.After(endingAfter) {
			continue
		}
		if b.Status != models.BookingStatusActive && b.Status != models.BookingStatusPendingPayment {
			continue
		}
		c := *b
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartDate.Before(list[j].StartDate) })
	return list, nil
}

func (d *Directory) MarkPaid(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bookings[id]
	if !ok || b.Status != models.BookingStatusPendingPayment {
		return false, nil
	}
	b.Status = models.BookingStatusActive
	b.UpdatedAt = time.Now()
	return true, nil
}

func (d *Directory) ExtendEndDate(_ context.Context, id string, currentEnd, newEnd time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bookings[id]
	if !ok || !b.EndDate.Equal(currentEnd) {
		return false, nil
	}
	b.EndDate = newEnd
	b.RenewalCount++
	b.UpdatedAt = time.Now()
	return true, nil
}
