package audit

import (
	"sort"

	"github.com/orchon/orchon/pkg/models"
)

// Snapshot is the instance state derived by folding the journal. The engine
// keeps materialized state for dispatch; Replay exists so the journal stays
// authoritative and the two can be checked against each other.
type Snapshot struct {
	InstanceID   string
	Status       models.InstanceStatus
	StepStatuses map[string]models.StepStatus
	Variables    map[string]models.Value
}

// Replay folds an instance's journal, in sequence order, into a state
// snapshot. Unknown actions are ignored so journals stay forward-readable.
func Replay(entries []models.AuditLogEntry) Snapshot {
	ordered := make([]models.AuditLogEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	snapshot := Snapshot{
		StepStatuses: make(map[string]models.StepStatus),
		Variables:    make(map[string]models.Value),
	}

	for _, entry := range ordered {
		snapshot.InstanceID = entry.InstanceID

		switch entry.Action {
		case models.AuditCreated:
			snapshot.Status = models.InstanceStatusPending
		case models.AuditStarted:
			snapshot.Status = models.InstanceStatusRunning
		case models.AuditPaused:
			snapshot.Status = models.InstanceStatusPaused
		case models.AuditResumed:
			snapshot.Status = models.InstanceStatusRunning
		case models.AuditCompleted:
			snapshot.Status = models.InstanceStatusCompleted
		case models.AuditFailed:
			snapshot.Status = models.InstanceStatusFailed

			for id, status := range snapshot.StepStatuses {
				if !status.Terminal() {
					snapshot.StepStatuses[id] = models.StepStatusCancelled
				}
			}
		case models.AuditCancelled:
			snapshot.Status = models.InstanceStatusCancelled

			for id, status := range snapshot.StepStatuses {
				if !status.Terminal() {
					snapshot.StepStatuses[id] = models.StepStatusCancelled
				}
			}
		case models.AuditStepStarted:
			snapshot.StepStatuses[entry.StepInstanceID] = models.StepStatusRunning
		case models.AuditStepCompleted:
			status := models.StepStatusCompleted
			if skipped, ok := entry.Metadata["skipped"]; ok {
				if b, isBool := skipped.AsBool(); isBool && b {
					status = models.StepStatusSkipped
				}
			}

			snapshot.StepStatuses[entry.StepInstanceID] = status
		case models.AuditStepFailed:
			status := models.StepStatusFailed
			if willRetry, ok := entry.Metadata["will_retry"]; ok {
				if b, isBool := willRetry.AsBool(); isBool && b {
					status = models.StepStatusPending
				}
			}

			snapshot.StepStatuses[entry.StepInstanceID] = status
		case models.AuditVariableUpdated:
			if key, ok := entry.Metadata["key"]; ok {
				if name, isStr := key.AsString(); isStr {
					snapshot.Variables[name] = entry.Metadata["new_value"]
				}
			}
		}
	}

	return snapshot
}
