package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemDirectory is the in-process Directory backed by the reference
// fixture. Safe for concurrent use.
type MemDirectory struct {
	mu         sync.RWMutex
	warehouses map[string]*Warehouse
	couriers   map[string]*Courier
	shifts     map[string]*Shift
	now        func() time.Time
}

// NewMemDirectory seeds the fixture. now supplies the date for the
// seeded shifts and defaults to time.Now.
func NewMemDirectory(now func() time.Time) *MemDirectory {
	if now == nil {
		now = time.Now
	}
	d := &MemDirectory{
		warehouses: make(map[string]*Warehouse),
		couriers:   make(map[string]*Courier),
		shifts:     make(map[string]*Shift),
		now:        now,
	}
	d.seed()
	return d
}

func (d *MemDirectory) seed() {
	for _, w := range []*Warehouse{
		{ID: "wh-100", Name: "North Dock", City: "Riverton"},
		{ID: "wh-200", Name: "Central Hub", City: "Riverton"},
		{ID: "wh-300", Name: "East Yard", City: "Lakeside"},
	} {
		d.warehouses[w.ID] = w
	}
	for _, c := range []*Courier{
		{ID: "123", FullName: "Alex Morgan", Status: CourierActive, Strikes: 0, WarehouseID: "wh-100"},
		{ID: "456", FullName: "Sam Carter", Status: CourierActive, Strikes: 1, WarehouseID: "wh-100"},
		{ID: "789", FullName: "Riley Chen", Status: CourierActive, Strikes: 0, WarehouseID: "wh-200"},
		{ID: "000", FullName: "Jordan Reyes", Status: CourierActive, Strikes: 2, WarehouseID: "wh-300"},
	} {
		d.couriers[c.ID] = c
	}
	today := d.now().Format("2006-01-02")
	for _, s := range []*Shift{
		{ID: "S101", CourierID: "123", WarehouseID: "wh-100", Date: today, Status: ShiftActive, TimeSlot: "09:00-18:00"},
		{ID: "S102", CourierID: "123", WarehouseID: "wh-100", Date: today, Status: ShiftPlanned, TimeSlot: "19:00-23:00"},
		{ID: "S201", CourierID: "456", WarehouseID: "wh-100", Date: today, Status: ShiftActive, TimeSlot: "10:00-19:00"},
		{ID: "S202", CourierID: "789", WarehouseID: "wh-200", Date: today, Status: ShiftPlanned, TimeSlot: "08:00-14:00"},
	} {
		d.shifts[s.ID] = s
	}
}

func (d *MemDirectory) LookupWarehouse(_ context.Context, id string) (*Warehouse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.warehouses[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (d *MemDirectory) SearchWarehouses(_ context.Context, name string) ([]Warehouse, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}
	var out []Warehouse
	for _, w := range d.warehouses {
		if strings.Contains(strings.ToLower(w.Name), needle) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (d *MemDirectory) LookupCourier(_ context.Context, id string) (*Courier, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.couriers[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *MemDirectory) SearchCouriers(_ context.Context, name string) ([]Courier, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}
	var out []Courier
	for _, c := range d.couriers {
		if strings.Contains(strings.ToLower(c.FullName), needle) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (d *MemDirectory) ListShifts(_ context.Context, courierID, date string) ([]Shift, error) {
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Shift
	for _, s := range d.shifts {
		if s.CourierID != strings.TrimSpace(courierID) {
			continue
		}
		if s.Status != ShiftActive && s.Status != ShiftPlanned {
			continue
		}
		if date != "" && s.Date != date {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// ApplyAction applies a disciplinary action. Ban is tolerant of
// re-application: banning an already banned courier reports success
// without stacking strikes again.
func (d *MemDirectory) ApplyAction(_ context.Context, req ActionRequest) (*ActionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.couriers[strings.TrimSpace(req.CourierID)]
	if !ok {
		return &ActionResult{Status: "error", Message: fmt.Sprintf("courier %s not found", req.CourierID)}, nil
	}

	switch req.Type {
	case ActionDeleteShift:
		target := d.findShiftLocked(c.ID, req.ShiftID)
		if target == nil {
			return &ActionResult{Status: "error", Message: "no active or planned shift to delete"}, nil
		}
		target.Status = ShiftCancelledSupport
		return &ActionResult{
			Status:  "success",
			Message: fmt.Sprintf("shift %s cancelled for courier %s", target.ID, c.ID),
		}, nil

	case ActionBanCourier:
		if c.Status == CourierBanned {
			return &ActionResult{
				Status:  "success",
				Message: fmt.Sprintf("courier %s is already banned", c.ID),
				Strikes: c.Strikes,
			}, nil
		}
		c.Status = CourierBanned
		c.Strikes += 3
		cancelled := 0
		for _, s := range d.shifts {
			if s.CourierID == c.ID && (s.Status == ShiftActive || s.Status == ShiftPlanned) {
				s.Status = ShiftCancelledBan
				cancelled++
			}
		}
		return &ActionResult{
			Status:  "success",
			Message: fmt.Sprintf("courier %s banned, %d shifts cancelled", c.ID, cancelled),
			Strikes: c.Strikes,
		}, nil

	case ActionLogComplaint:
		c.Strikes++
		return &ActionResult{
			Status:  "success",
			Message: fmt.Sprintf("complaint logged against courier %s", c.ID),
			Strikes: c.Strikes,
		}, nil

	default:
		return &ActionResult{Status: "error", Message: fmt.Sprintf("unknown action type %q", req.Type)}, nil
	}
}

// findShiftLocked resolves the shift to cancel: the named one when an
// ID is given, otherwise the courier's first active or planned shift.
func (d *MemDirectory) findShiftLocked(courierID, shiftID string) *Shift {
	if shiftID != "" {
		s, ok := d.shifts[shiftID]
		if ok && s.CourierID == courierID && (s.Status == ShiftActive || s.Status == ShiftPlanned) {
			return s
		}
		return nil
	}
	var best *Shift
	for _, s := range d.shifts {
		if s.CourierID != courierID {
			continue
		}
		if s.Status != ShiftActive && s.Status != ShiftPlanned {
			continue
		}
		if best == nil || s.ID < best.ID {
			best = s
		}
	}
	return best
}
