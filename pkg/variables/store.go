// Package variables holds the typed key/value bag scoped to one workflow
// instance. Every write is journaled; writes after the owning instance
// reaches a terminal status are rejected.
package variables

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/models"
)

// ErrStoreFrozen is returned by writes after the owning instance is
// terminal.
var ErrStoreFrozen = errors.New("variable store is frozen")

// Store is exclusively owned by its instance; the engine serializes access
// through the per-instance lock, so the store itself carries no mutex.
type Store struct {
	instanceID string
	values     map[string]models.Value
	journal    *audit.Logger
	frozen     bool
}

// NewStore creates a store seeded with the initial variables. The initial
// load is not journaled; it is part of the instance's created state.
func NewStore(instanceID string, initial map[string]models.Value, journal *audit.Logger) *Store {
	return &Store{
		instanceID: instanceID,
		values:     models.CloneMap(initial),
		journal:    journal,
	}
}

// Get returns the value for key.
func (s *Store) Get(key string) (models.Value, bool) {
	value, ok := s.values[key]

	return value, ok
}

// Set writes one variable and journals the old and new value.
func (s *Store) Set(ctx context.Context, key string, value models.Value, actor string) error {
	if s.frozen {
		return fmt.Errorf("set %q on instance %s: %w", key, s.instanceID, ErrStoreFrozen)
	}

	old, existed := s.values[key]
	metadata := map[string]models.Value{
		"key":       models.String(key),
		"new_value": value,
	}

	if existed {
		metadata["old_value"] = old
	}

	_, err := s.journal.Append(ctx, audit.Entry{
		InstanceID: s.instanceID,
		Action:     models.AuditVariableUpdated,
		Actor:      actor,
		Metadata:   metadata,
	})
	if err != nil {
		return err
	}

	if s.values == nil {
		s.values = make(map[string]models.Value)
	}

	s.values[key] = value

	return nil
}

// SetAll writes a batch of variables in sorted key order, so the journal
// stays deterministic.
func (s *Store) SetAll(ctx context.Context, values map[string]models.Value, actor string) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		err := s.Set(ctx, key, values[key], actor)
		if err != nil {
			return err
		}
	}

	return nil
}

// Snapshot returns an immutable deep copy for condition evaluation and
// serialization.
func (s *Store) Snapshot() map[string]models.Value {
	return models.CloneMap(s.values)
}

// Freeze marks the store read-only. Called when the owning instance reaches
// a terminal status.
func (s *Store) Freeze() {
	s.frozen = true
}

// Frozen reports whether the store rejects writes.
func (s *Store) Frozen() bool {
	return s.frozen
}
