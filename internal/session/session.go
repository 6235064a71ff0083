// Package session holds the durable per-session state of a running
// scenario and the stores that persist it. The state layout is the only
// wire format owned by the engine; everything inside the active stage
// state is an opaque blob owned by the stage's agent.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ScenarioState is the lifecycle state of a scenario session.
type ScenarioState string

const (
	StateInitializing ScenarioState = "initializing"
	StateRunning      ScenarioState = "running_stage"
	StateFinished     ScenarioState = "finished"
	StateError        ScenarioState = "error"
)

// Terminal reports whether no further stage may run.
func (s ScenarioState) Terminal() bool {
	return s == StateFinished || s == StateError
}

// Key identifies one scenario session.
type Key struct {
	ScenarioID string
	SessionID  string
}

func (k Key) String() string {
	return k.ScenarioID + ":" + k.SessionID
}

// storageKey is the flattened form used by path- and subject-based
// stores. Characters outside [A-Za-z0-9._-] are mapped to '_'.
func (k Key) storageKey() string {
	mapRune := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}
	return strings.Map(mapRune, k.ScenarioID) + "." + strings.Map(mapRune, k.SessionID)
}

// State is the persisted session record. StageIndex is -1 before the
// first stage starts and never decreases while the session is running.
type State struct {
	ScenarioState ScenarioState   `json:"scenario_state"`
	StageIndex    int             `json:"current_stage_index"`
	StageState    json.RawMessage `json:"active_stage_state,omitempty"`
	SharedData    *SharedData     `json:"shared_data"`
}

// NewState returns a fresh session record with no stage started.
func NewState() *State {
	return &State{
		ScenarioState: StateInitializing,
		StageIndex:    -1,
		SharedData:    NewSharedData(),
	}
}

// ErrNotFound is returned by Store.Get for sessions that were never
// started or have been reset.
var ErrNotFound = errors.New("session not found")

// Store persists session state. Implementations must make Put visible
// to a subsequent Get (read-modify-write discipline); the engine
// serializes writers per session, so stores need no additional locking
// beyond their own internal consistency.
type Store interface {
	Get(ctx context.Context, key Key) (*State, error)
	Put(ctx context.Context, key Key, st *State) error
	Delete(ctx context.Context, key Key) error
}
