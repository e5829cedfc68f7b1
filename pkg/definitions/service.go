package definitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
	"github.com/orchon/orchon/pkg/registry"
)

// ErrDefinitionNotFound is returned when a definition or version is missing.
var ErrDefinitionNotFound = persistence.ErrDefinitionNotFound

// Service is the definition store facade. Saves validate first and allocate
// immutable versions; reads resolve either a pinned version or the latest
// active one.
type Service struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a definition store backed by the given persistence. The
// registry supplies per-type config schemas for validation.
func NewService(p persistence.Persistence, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		persistence: p,
		registry:    reg,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "definitions"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Save validates the definition and persists it as a new immutable version.
// An existing definition with the same tenant and name is versioned, never
// overwritten; running instances keep their pinned version. Returns the
// definition ID and the allocated version.
func (s *Service) Save(ctx context.Context, def *models.WorkflowDefinition) (string, int, error) {
	result := s.Validate(def)
	if !result.Valid() {
		return "", 0, &InvalidDefinitionError{Result: result}
	}

	id := def.ID
	if id == "" {
		existingID, err := s.persistence.Definitions().FindByName(ctx, def.TenantID, def.Name)

		switch {
		case err == nil:
			id = existingID
		case errors.Is(err, persistence.ErrDefinitionNotFound):
			id = uuid.New().String()
		default:
			return "", 0, fmt.Errorf("failed to resolve definition by name: %w", err)
		}
	}

	latest, err := s.persistence.Definitions().LatestVersion(ctx, id)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve latest version: %w", err)
	}

	def.ID = id
	def.Version = latest + 1
	def.IsActive = true
	def.CreatedAt = s.now()

	err = s.persistence.Definitions().Save(ctx, def)
	if err != nil {
		return "", 0, fmt.Errorf("failed to save definition: %w", err)
	}

	s.logger.InfoContext(ctx, "Definition saved",
		"definition_id", def.ID,
		"version", def.Version,
		"tenant_id", def.TenantID,
		"name", def.Name,
		"warnings", len(result.Warnings),
	)

	return def.ID, def.Version, nil
}

// Get returns one version of a definition, or the latest active version when
// version is zero.
func (s *Service) Get(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	return s.persistence.Definitions().GetByID(ctx, id, version)
}
