package variables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence/file"
)

func newTestStore(t *testing.T) (*Store, *audit.Logger) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	journal := audit.NewLogger(p.AuditLog())
	store := NewStore("inst-1", map[string]models.Value{
		"amount": models.Number(500),
	}, journal)

	return store, journal
}

func TestStore_SetJournalsOldAndNewValue(t *testing.T) {
	store, journal := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "amount", models.Number(750), "alice"))

	entries, err := journal.List(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, models.AuditVariableUpdated, entry.Action)
	assert.Equal(t, "alice", entry.Actor)
	assert.True(t, models.String("amount").Equal(entry.Metadata["key"]))
	assert.True(t, models.Number(500).Equal(entry.Metadata["old_value"]))
	assert.True(t, models.Number(750).Equal(entry.Metadata["new_value"]))
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	snapshot := store.Snapshot()
	require.NoError(t, store.Set(ctx, "amount", models.Number(1), audit.EngineActor))

	assert.True(t, models.Number(500).Equal(snapshot["amount"]),
		"snapshot must not observe later writes")
}

func TestStore_FrozenRejectsWrites(t *testing.T) {
	store, journal := newTestStore(t)
	ctx := context.Background()

	store.Freeze()

	err := store.Set(ctx, "amount", models.Number(1), audit.EngineActor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreFrozen)

	entries, err := journal.List(ctx, "inst-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected writes must not be journaled")
}

func TestStore_SetAllIsSortedByKey(t *testing.T) {
	store, journal := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetAll(ctx, map[string]models.Value{
		"b": models.Number(2),
		"a": models.Number(1),
		"c": models.Number(3),
	}, audit.EngineActor))

	entries, err := journal.List(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var keys []string

	for _, entry := range entries {
		key, _ := entry.Metadata["key"].AsString()
		keys = append(keys, key)
	}

	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
