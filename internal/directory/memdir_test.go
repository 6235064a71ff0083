package directory

import (
	"context"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func TestLookupAndSearch(t *testing.T) {
	d := NewMemDirectory(fixedNow)
	ctx := context.Background()

	w, err := d.LookupWarehouse(ctx, " WH-100 ")
	if err != nil {
		t.Fatalf("lookup warehouse: %v", err)
	}
	if w.Name != "North Dock" {
		t.Errorf("warehouse = %+v", w)
	}

	if _, err := d.LookupWarehouse(ctx, "wh-999"); err != ErrNotFound {
		t.Errorf("missing warehouse err = %v", err)
	}

	ws, err := d.SearchWarehouses(ctx, "dock")
	if err != nil || len(ws) != 1 || ws[0].ID != "wh-100" {
		t.Errorf("search warehouses = %v, %v", ws, err)
	}

	cs, err := d.SearchCouriers(ctx, "carter")
	if err != nil || len(cs) != 1 || cs[0].ID != "456" {
		t.Errorf("search couriers = %v, %v", cs, err)
	}
}

func TestListShifts(t *testing.T) {
	d := NewMemDirectory(fixedNow)
	ctx := context.Background()

	shifts, err := d.ListShifts(ctx, "123", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(shifts) != 2 {
		t.Errorf("shifts = %v", shifts)
	}

	shifts, err = d.ListShifts(ctx, "123", "2026-03-14")
	if err != nil || len(shifts) != 2 {
		t.Errorf("dated shifts = %v, %v", shifts, err)
	}

	if _, err := d.ListShifts(ctx, "123", "14.03.2026"); err == nil {
		t.Error("expected date format error")
	}
}

func TestDeleteShiftAction(t *testing.T) {
	d := NewMemDirectory(fixedNow)
	ctx := context.Background()

	res, err := d.ApplyAction(ctx, ActionRequest{Type: ActionDeleteShift, CourierID: "123", Reason: "no-show"})
	if err != nil || res.Status != "success" {
		t.Fatalf("delete: %+v, %v", res, err)
	}
	// First shift by ID order (S101) was cancelled.
	shifts, _ := d.ListShifts(ctx, "123", "")
	if len(shifts) != 1 || shifts[0].ID != "S102" {
		t.Errorf("remaining shifts = %v", shifts)
	}

	res, _ = d.ApplyAction(ctx, ActionRequest{Type: ActionDeleteShift, CourierID: "123", ShiftID: "S999"})
	if res.Status != "error" {
		t.Errorf("unknown shift: %+v", res)
	}
}

func TestBanCourierAction(t *testing.T) {
	d := NewMemDirectory(fixedNow)
	ctx := context.Background()

	res, err := d.ApplyAction(ctx, ActionRequest{Type: ActionBanCourier, CourierID: "123", Reason: "intoxicated"})
	if err != nil || res.Status != "success" {
		t.Fatalf("ban: %+v, %v", res, err)
	}
	c, _ := d.LookupCourier(ctx, "123")
	if c.Status != CourierBanned || c.Strikes != 3 {
		t.Errorf("courier after ban = %+v", c)
	}
	if shifts, _ := d.ListShifts(ctx, "123", ""); len(shifts) != 0 {
		t.Errorf("shifts not cancelled: %v", shifts)
	}

	// Re-ban is tolerated and does not stack strikes.
	res, _ = d.ApplyAction(ctx, ActionRequest{Type: ActionBanCourier, CourierID: "123"})
	if res.Status != "success" {
		t.Errorf("re-ban: %+v", res)
	}
	c, _ = d.LookupCourier(ctx, "123")
	if c.Strikes != 3 {
		t.Errorf("strikes stacked: %d", c.Strikes)
	}
}

func TestLogComplaintAction(t *testing.T) {
	d := NewMemDirectory(fixedNow)
	res, err := d.ApplyAction(context.Background(), ActionRequest{Type: ActionLogComplaint, CourierID: "456", Reason: "rude"})
	if err != nil || res.Status != "success" || res.Strikes != 2 {
		t.Errorf("log complaint: %+v, %v", res, err)
	}
}

func TestUnknownActionAndCourier(t *testing.T) {
	d := NewMemDirectory(fixedNow)
	res, _ := d.ApplyAction(context.Background(), ActionRequest{Type: "promote", CourierID: "123"})
	if res.Status != "error" {
		t.Errorf("unknown action: %+v", res)
	}
	res, _ = d.ApplyAction(context.Background(), ActionRequest{Type: ActionBanCourier, CourierID: "nope"})
	if res.Status != "error" {
		t.Errorf("unknown courier: %+v", res)
	}
}
