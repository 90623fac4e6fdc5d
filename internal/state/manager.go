package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/usorama/rad-engineer/internal/wave"
)

var (
	// ErrStateIncompatible is returned for checkpoints written with another schema version.
	ErrStateIncompatible = errors.New("checkpoint schema version is incompatible")
	// ErrStateCorrupt is returned for checkpoints that cannot be decoded.
	ErrStateCorrupt = errors.New("checkpoint is corrupt")
)

// Manager encodes wave checkpoints and funnels them into a Store.
// Saves for the same wave are serialized.
type Manager struct {
	store  Store
	locks  *keyLocks
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a state manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  newKeyLocks(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save writes the checkpoint for waveID, stamping the schema version and time.
// The caller's state is not modified.
func (m *Manager) Save(ctx context.Context, waveID string, st *wave.WaveState) error {
	if st == nil {
		return errors.New("nil wave state")
	}

	doc := st.Clone()
	doc.WaveID = waveID
	doc.SchemaVersion = wave.SchemaVersion
	doc.UpdatedAt = m.now().UTC()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	unlock := m.locks.lock(waveID)
	defer unlock()

	if err := m.store.Put(ctx, waveID, data); err != nil {
		return fmt.Errorf("failed to save checkpoint for wave %s: %w", waveID, err)
	}

	m.logger.Debug("checkpoint saved",
		zap.String("wave_id", waveID),
		zap.Int("completed", len(doc.Completed)),
		zap.Int("pending", len(doc.Pending)),
		zap.Int("in_flight", len(doc.InFlight)))
	return nil
}

// Load returns the checkpoint for waveID.
// Returns ErrNotFound, ErrStateIncompatible or ErrStateCorrupt (wrapped).
func (m *Manager) Load(ctx context.Context, waveID string) (*wave.WaveState, error) {
	data, err := m.store.Get(ctx, waveID)
	if err != nil {
		return nil, err
	}

	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: wave %s: %v", ErrStateCorrupt, waveID, err)
	}
	if probe.SchemaVersion != wave.SchemaVersion {
		return nil, fmt.Errorf("%w: wave %s has version %d, want %d",
			ErrStateIncompatible, waveID, probe.SchemaVersion, wave.SchemaVersion)
	}

	var st wave.WaveState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: wave %s: %v", ErrStateCorrupt, waveID, err)
	}
	if st.WaveID != waveID {
		return nil, fmt.Errorf("%w: checkpoint under %s belongs to wave %q", ErrStateCorrupt, waveID, st.WaveID)
	}
	if st.Completed == nil {
		st.Completed = make(map[string]wave.TaskResult)
	}
	return &st, nil
}

// Delete removes the checkpoint for waveID. Missing checkpoints are not an error.
func (m *Manager) Delete(ctx context.Context, waveID string) error {
	unlock := m.locks.lock(waveID)
	defer unlock()
	return m.store.Delete(ctx, waveID)
}

// List returns the IDs of all stored waves.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.Keys(ctx)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
