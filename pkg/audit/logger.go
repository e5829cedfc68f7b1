// Package audit records the append-only journal of instance transitions and
// derives state snapshots back out of it.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// EngineActor is the actor recorded for transitions the engine performs on
// its own, as opposed to an external caller.
const EngineActor = "engine"

// Logger appends journal entries with per-instance gapless sequences and
// monotonically non-decreasing timestamps. Callers must hold the instance
// lock while appending so two branches cannot race a sequence number.
type Logger struct {
	repo persistence.AuditLogRepository
	now  func() time.Time

	mu       sync.Mutex
	lastSeq  map[string]int64
	lastTime map[string]time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// NewLogger creates an audit logger on top of the journal repository.
func NewLogger(repo persistence.AuditLogRepository, opts ...Option) *Logger {
	l := &Logger{
		repo:     repo,
		now:      func() time.Time { return time.Now().UTC() },
		lastSeq:  make(map[string]int64),
		lastTime: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Entry is the caller-facing draft of a journal record; sequence, timestamp
// and ID are allocated by the logger.
type Entry struct {
	InstanceID     string
	StepInstanceID string
	StepID         string
	Action         models.AuditAction
	Actor          string
	Metadata       map[string]models.Value
}

// Append allocates the next sequence for the instance and persists the
// entry. Timestamps are clamped so they never go backwards within one
// instance, even when branches complete in the same wall-clock instant.
func (l *Logger) Append(ctx context.Context, draft Entry) (models.AuditLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, known := l.lastSeq[draft.InstanceID]
	if !known {
		persisted, err := l.repo.LastSequence(ctx, draft.InstanceID)
		if err != nil {
			return models.AuditLogEntry{}, err
		}

		seq = persisted
	}

	timestamp := l.now()
	if last, ok := l.lastTime[draft.InstanceID]; ok && timestamp.Before(last) {
		timestamp = last
	}

	actor := draft.Actor
	if actor == "" {
		actor = EngineActor
	}

	entry := models.AuditLogEntry{
		ID:             uuid.New().String(),
		InstanceID:     draft.InstanceID,
		StepInstanceID: draft.StepInstanceID,
		StepID:         draft.StepID,
		Action:         draft.Action,
		Sequence:       seq + 1,
		Timestamp:      timestamp,
		Actor:          actor,
		Metadata:       draft.Metadata,
	}

	err := l.repo.Append(ctx, &entry)
	if err != nil {
		return models.AuditLogEntry{}, err
	}

	l.lastSeq[draft.InstanceID] = entry.Sequence
	l.lastTime[draft.InstanceID] = timestamp

	return entry, nil
}

// List returns the journal of one instance ordered by sequence.
func (l *Logger) List(ctx context.Context, instanceID string) ([]models.AuditLogEntry, error) {
	return l.repo.ListByInstance(ctx, instanceID)
}
