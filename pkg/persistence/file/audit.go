package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// AuditLogRepository stores the journal of one instance as a JSON array.
// Entries are append-only; nothing here ever rewrites an existing entry.
type AuditLogRepository struct {
	base *Persistence
}

func (r *AuditLogRepository) path(instanceID string) string {
	return filepath.Join(r.base.root, "audit", instanceID+".json")
}

func (r *AuditLogRepository) load(instanceID string) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry

	err := r.base.readDocument(r.path(instanceID), &entries)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.AuditLogEntry{}, nil
		}

		return nil, persistence.NewStoreError("load", "audit entry", instanceID, err)
	}

	return entries, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	entries, err := r.load(entry.InstanceID)
	if err != nil {
		return err
	}

	for _, existing := range entries {
		if existing.Sequence == entry.Sequence {
			return persistence.NewStoreError("Append", "audit entry", entry.ID, persistence.ErrDuplicateSequence)
		}
	}

	entries = append(entries, *entry)

	err = r.base.writeDocument(r.path(entry.InstanceID), entries)
	if err != nil {
		return persistence.NewStoreError("Append", "audit entry", entry.ID, err)
	}

	return nil
}

func (r *AuditLogRepository) ListByInstance(ctx context.Context, instanceID string) ([]models.AuditLogEntry, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	return r.load(instanceID)
}

func (r *AuditLogRepository) LastSequence(ctx context.Context, instanceID string) (int64, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	entries, err := r.load(instanceID)
	if err != nil {
		return 0, err
	}

	var last int64

	for _, entry := range entries {
		if entry.Sequence > last {
			last = entry.Sequence
		}
	}

	return last, nil
}
