// Package directory is the repository interface over the warehouse,
// courier, and shift records the scenarios operate on. The production
// backend is an external workforce system; the in-memory implementation
// here carries the reference fixture and the full action semantics so
// the orchestration core runs and tests without process-wide state.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the lookup operations.
var ErrNotFound = errors.New("directory: not found")

type Warehouse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

// Courier status values.
const (
	CourierActive = "active"
	CourierBanned = "banned_by_support"
)

type Courier struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	Status      string `json:"status"`
	Strikes     int    `json:"strikes"`
	WarehouseID string `json:"warehouse_id"`
}

// Shift status values.
const (
	ShiftActive           = "active"
	ShiftPlanned          = "planned"
	ShiftCancelledSupport = "cancelled_by_support"
	ShiftCancelledBan     = "cancelled_due_to_ban"
)

type Shift struct {
	ID          string `json:"shift_id"`
	CourierID   string `json:"courier_id"`
	WarehouseID string `json:"warehouse_id"`
	Date        string `json:"date"` // YYYY-MM-DD
	Status      string `json:"status"`
	TimeSlot    string `json:"time_slot"`
}

// Action types accepted by ApplyAction.
const (
	ActionDeleteShift  = "delete_shift"
	ActionBanCourier   = "ban_courier"
	ActionLogComplaint = "log_complaint"
)

// ActionRequest describes one disciplinary action against a courier.
type ActionRequest struct {
	Type        string `json:"action_type"`
	CourierID   string `json:"courier_id"`
	Reason      string `json:"reason"`
	ShiftID     string `json:"shift_id,omitempty"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	// IdempotencyKey identifies the confirmed plan this action belongs
	// to; backends may use it to deduplicate re-delivery.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ActionResult reports the outcome of an applied action.
type ActionResult struct {
	Status  string `json:"status"` // "success" or "error"
	Message string `json:"message"`
	Strikes int    `json:"strikes,omitempty"`
}

// Directory is the capability set the scenarios need: lookup by id,
// lookup by name, shift listing, and action application.
type Directory interface {
	LookupWarehouse(ctx context.Context, id string) (*Warehouse, error)
	SearchWarehouses(ctx context.Context, name string) ([]Warehouse, error)
	LookupCourier(ctx context.Context, id string) (*Courier, error)
	SearchCouriers(ctx context.Context, name string) ([]Courier, error)
	// ListShifts returns the courier's active and planned shifts,
	// optionally filtered to one date (YYYY-MM-DD).
	ListShifts(ctx context.Context, courierID, date string) ([]Shift, error)
	ApplyAction(ctx context.Context, req ActionRequest) (*ActionResult, error)
}
