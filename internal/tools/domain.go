package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/opsdesk/scenario/internal/directory"
	"github.com/opsdesk/scenario/internal/kb"
)

// RegisterLookupTools adds the read-only directory tools used during
// identification and enrichment.
func RegisterLookupTools(r *Registry, dir directory.Directory) {
	r.Register(&Func{
		ToolName:        "find_warehouse",
		ToolDescription: "Find a warehouse by exact ID or by a fragment of its name. Returns the warehouse, a candidate list when the name is ambiguous, or not_found.",
		Schema: objectSchema(map[string]interface{}{
			"query": prop("string", "Warehouse ID or name fragment"),
		}, "query"),
		Fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return findWarehouse(ctx, dir, strArg(args, "query"))
		},
	})

	r.Register(&Func{
		ToolName:        "search_courier",
		ToolDescription: "Find a courier by exact ID or by a fragment of their full name.",
		Schema: objectSchema(map[string]interface{}{
			"query":        prop("string", "Courier ID or name fragment"),
			"warehouse_id": prop("string", "Restrict matches to this warehouse"),
		}, "query"),
		Fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return searchCourier(ctx, dir, strArg(args, "query"), strArg(args, "warehouse_id"))
		},
	})

	r.Register(&Func{
		ToolName:        "get_courier_shifts",
		ToolDescription: "List a courier's active and planned shifts, optionally on one date (YYYY-MM-DD).",
		Schema: objectSchema(map[string]interface{}{
			"courier_id": prop("string", "Courier ID"),
			"date":       prop("string", "Optional date filter, YYYY-MM-DD"),
		}, "courier_id"),
		Fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			shifts, err := dir.ListShifts(ctx, strArg(args, "courier_id"), strArg(args, "date"))
			if err != nil {
				return map[string]interface{}{"status": "error", "message": err.Error()}, nil
			}
			return map[string]interface{}{"status": "success", "shifts": shifts}, nil
		},
	})
}

// RegisterKBTool adds knowledge-base search.
func RegisterKBTool(r *Registry, searcher kb.Searcher, defaultTopK int) {
	r.Register(&Func{
		ToolName:        "query_knowledge_base",
		ToolDescription: "Search a knowledge collection (courier_job_description, support_agent_guidelines, general_instructions) for relevant snippets.",
		Schema: objectSchema(map[string]interface{}{
			"collection": prop("string", "Collection name"),
			"query":      prop("string", "Free-text query"),
			"top_k":      prop("integer", "Number of snippets to return"),
		}, "collection", "query"),
		Fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			results, err := searcher.Search(ctx, strArg(args, "collection"), strArg(args, "query"), intArg(args, "top_k", defaultTopK))
			if err != nil {
				return nil, fmt.Errorf("query_knowledge_base: %w", err)
			}
			return map[string]interface{}{"results": results}, nil
		},
	})
}

// NewActionTool builds the action-invoking tool. It is deliberately not
// registered in any agent-facing registry; the confirmation gate is its
// only caller.
func NewActionTool(dir directory.Directory) Tool {
	return &Func{
		ToolName:        "take_action_on_courier",
		ToolDescription: "Apply a disciplinary action to a courier: delete_shift, ban_courier, or log_complaint.",
		Schema: objectSchema(map[string]interface{}{
			"action_type":     prop("string", "One of delete_shift, ban_courier, log_complaint"),
			"courier_id":      prop("string", "Courier ID"),
			"reason":          prop("string", "Reason recorded with the action"),
			"shift_id":        prop("string", "Shift to delete; optional for delete_shift"),
			"warehouse_id":    prop("string", "Warehouse context"),
			"idempotency_key": prop("string", "Key of the confirmed plan"),
		}, "action_type", "courier_id", "reason"),
		Fn: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			res, err := dir.ApplyAction(ctx, directory.ActionRequest{
				Type:           strArg(args, "action_type"),
				CourierID:      strArg(args, "courier_id"),
				Reason:         strArg(args, "reason"),
				ShiftID:        strArg(args, "shift_id"),
				WarehouseID:    strArg(args, "warehouse_id"),
				IdempotencyKey: strArg(args, "idempotency_key"),
			})
			if err != nil {
				return nil, fmt.Errorf("take_action_on_courier: %w", err)
			}
			return res, nil
		},
	}
}

func findWarehouse(ctx context.Context, dir directory.Directory, query string) (interface{}, error) {
	w, err := dir.LookupWarehouse(ctx, query)
	if err == nil {
		return map[string]interface{}{"status": "success", "warehouse": w}, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("find_warehouse: %w", err)
	}

	candidates, err := dir.SearchWarehouses(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find_warehouse: %w", err)
	}
	switch len(candidates) {
	case 0:
		return map[string]interface{}{"status": "not_found", "message": fmt.Sprintf("no warehouse matches %q", query)}, nil
	case 1:
		return map[string]interface{}{"status": "success", "warehouse": candidates[0]}, nil
	default:
		return map[string]interface{}{
			"status":     "multiple_found",
			"message":    fmt.Sprintf("%d warehouses match %q, ask the user to pick one", len(candidates), query),
			"candidates": candidates,
		}, nil
	}
}

func searchCourier(ctx context.Context, dir directory.Directory, query, warehouseID string) (interface{}, error) {
	c, err := dir.LookupCourier(ctx, query)
	if err == nil {
		if warehouseID == "" || c.WarehouseID == warehouseID {
			return map[string]interface{}{"status": "success", "courier": c}, nil
		}
		return map[string]interface{}{"status": "not_found", "message": fmt.Sprintf("courier %s works at a different warehouse", c.ID)}, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("search_courier: %w", err)
	}

	candidates, err := dir.SearchCouriers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search_courier: %w", err)
	}
	if warehouseID != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.WarehouseID == warehouseID {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	switch len(candidates) {
	case 0:
		return map[string]interface{}{"status": "not_found", "message": fmt.Sprintf("no courier matches %q", query)}, nil
	case 1:
		return map[string]interface{}{"status": "success", "courier": candidates[0]}, nil
	default:
		return map[string]interface{}{
			"status":     "multiple_found",
			"message":    fmt.Sprintf("%d couriers match %q, ask the user to pick one", len(candidates), query),
			"candidates": candidates,
		}, nil
	}
}
