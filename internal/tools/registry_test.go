package tools

import (
	"context"
	"testing"
	"time"

	"github.com/opsdesk/scenario/internal/directory"
)

func newDir() *directory.MemDirectory {
	return directory.NewMemDirectory(func() time.Time {
		return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	})
}

func TestRegistryOrderAndExecute(t *testing.T) {
	r := NewRegistry()
	RegisterLookupTools(r, newDir())

	want := []string{"find_warehouse", "search_courier", "get_courier_shifts"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := r.Execute(context.Background(), "no_such_tool", nil); err == nil {
		t.Error("expected unknown tool error")
	}
}

func TestFindWarehouseStatuses(t *testing.T) {
	r := NewRegistry()
	RegisterLookupTools(r, newDir())
	ctx := context.Background()

	exec := func(query string) map[string]interface{} {
		t.Helper()
		res, err := r.Execute(ctx, "find_warehouse", map[string]interface{}{"query": query})
		if err != nil {
			t.Fatalf("find_warehouse(%q): %v", query, err)
		}
		return res.(map[string]interface{})
	}

	if res := exec("wh-200"); res["status"] != "success" {
		t.Errorf("by id: %v", res)
	}
	if res := exec("east"); res["status"] != "success" {
		t.Errorf("unique name: %v", res)
	}
	if res := exec("warehouse on the moon"); res["status"] != "not_found" {
		t.Errorf("missing: %v", res)
	}
}

func TestSearchCourierWarehouseFilter(t *testing.T) {
	r := NewRegistry()
	RegisterLookupTools(r, newDir())
	ctx := context.Background()

	res, err := r.Execute(ctx, "search_courier", map[string]interface{}{
		"query": "789", "warehouse_id": "wh-100",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.(map[string]interface{})["status"] != "not_found" {
		t.Errorf("cross-warehouse lookup: %v", res)
	}
}

func TestGetCourierShiftsBadDate(t *testing.T) {
	r := NewRegistry()
	RegisterLookupTools(r, newDir())

	res, err := r.Execute(context.Background(), "get_courier_shifts", map[string]interface{}{
		"courier_id": "123", "date": "not-a-date",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.(map[string]interface{})["status"] != "error" {
		t.Errorf("bad date: %v", res)
	}
}

func TestActionToolNotInLookupRegistry(t *testing.T) {
	r := NewRegistry()
	dir := newDir()
	RegisterLookupTools(r, dir)
	if r.Has("take_action_on_courier") {
		t.Fatal("action tool must not be agent-callable")
	}

	action := NewActionTool(dir)
	res, err := action.Execute(context.Background(), map[string]interface{}{
		"action_type": "log_complaint", "courier_id": "456", "reason": "late",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.(*directory.ActionResult).Status != "success" {
		t.Errorf("action result = %+v", res)
	}
}
