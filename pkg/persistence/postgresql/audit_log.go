package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// AuditLogRepository stores the append-only journal. The (instance_id,
// sequence) primary key turns a concurrent double-append into
// ErrDuplicateSequence instead of a silent overwrite.
type AuditLogRepository struct {
	db *sql.DB
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	query := `
		INSERT INTO audit_log (instance_id, sequence, data)
		VALUES ($1, $2, $3)
	`

	_, err = r.db.ExecContext(ctx, query, entry.InstanceID, entry.Sequence, data)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewStoreError("Append", "audit entry", entry.InstanceID, persistence.ErrDuplicateSequence)
		}

		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (r *AuditLogRepository) ListByInstance(ctx context.Context, instanceID string) ([]models.AuditLogEntry, error) {
	query := `
		SELECT data
		FROM audit_log
		WHERE instance_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditLogEntry, 0)

	for rows.Next() {
		var data []byte

		err = rows.Scan(&data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		var entry models.AuditLogEntry

		err = json.Unmarshal(data, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// LastSequence returns the highest stored sequence for the instance, or
// zero when the journal is empty.
func (r *AuditLogRepository) LastSequence(ctx context.Context, instanceID string) (int64, error) {
	var sequence int64

	query := `SELECT COALESCE(MAX(sequence), 0) FROM audit_log WHERE instance_id = $1`

	err := r.db.QueryRowContext(ctx, query, instanceID).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to query last sequence: %w", err)
	}

	return sequence, nil
}
