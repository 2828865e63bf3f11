package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/exception"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// RunStateKey is the KV name of the persisted RunState.
const RunStateKey = "run_state"

// RunStateManager reads and updates the RunState document.
type RunStateManager struct {
	kv  KVStore
	mu  sync.Mutex
	now func() time.Time
}

// NewRunStateManager creates a RunStateManager over kv.
func NewRunStateManager(kv KVStore) *RunStateManager {
	return &RunStateManager{kv: kv, now: time.Now}
}

// Get returns the current state. A missing or unreadable document yields
// the default state.
func (m *RunStateManager) Get(ctx context.Context) (model.RunState, error) {
	st, err := m.load(ctx)
	if errors.Is(err, errUnreadableState) {
		logger.Warnf("Run state is unreadable, using defaults: %v", err)
		return model.DefaultRunState(), nil
	}
	return st, err
}

var errUnreadableState = errors.New("run state is unreadable")

func (m *RunStateManager) load(ctx context.Context) (model.RunState, error) {
	raw, ok, err := m.kv.Get(ctx, RunStateKey)
	if err != nil {
		return model.DefaultRunState(), err
	}
	st := model.DefaultRunState()
	if !ok || raw == "" {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.DefaultRunState(), exception.NewBatchError(moduleName, "failed to decode run state", fmt.Errorf("%w: %v", errUnreadableState, err), false, false)
	}
	st.Normalize()
	return st, nil
}

// Update applies fn to the current state and persists the result. An
// unreadable document is left in place and reported; Reset replaces it.
func (m *RunStateManager) Update(ctx context.Context, fn func(*model.RunState)) (model.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(ctx)
	if err != nil {
		return st, err
	}
	fn(&st)
	return st, m.put(ctx, st)
}

func (m *RunStateManager) put(ctx context.Context, st model.RunState) error {
	encoded, err := json.Marshal(st)
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to encode run state", err, false, false)
	}
	return m.kv.Set(ctx, RunStateKey, string(encoded))
}

// MarkStart flags the migration as running for postTypes.
func (m *RunStateManager) MarkStart(ctx context.Context, postTypes []string) (model.RunState, error) {
	return m.Update(ctx, func(st *model.RunState) {
		st.Running = true
		st.StopRequested = false
		st.ActivePostTypes = append([]string{}, postTypes...)
		st.LastError = ""
	})
}

// MarkStopped clears the running and stop flags.
func (m *RunStateManager) MarkStopped(ctx context.Context) (model.RunState, error) {
	return m.Update(ctx, func(st *model.RunState) {
		st.Running = false
		st.StopRequested = false
	})
}

// RequestStop asks the running batch to stop before its next row.
func (m *RunStateManager) RequestStop(ctx context.Context) (model.RunState, error) {
	return m.Update(ctx, func(st *model.RunState) {
		st.StopRequested = true
	})
}

// Reset restores the default state.
func (m *RunStateManager) Reset(ctx context.Context) (model.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.DefaultRunState()
	return st, m.put(ctx, st)
}

// Now returns the manager's clock reading in UTC.
func (m *RunStateManager) Now() time.Time {
	return m.now().UTC()
}
