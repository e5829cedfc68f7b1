package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orchon/orchon/pkg/persistence"
	"github.com/orchon/orchon/pkg/persistence/file"
	"github.com/orchon/orchon/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence backend selected by the database
// URL scheme: postgres://... for PostgreSQL, anything else is treated as a
// file tree root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseScheme(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}

// MustPersistence is NewPersistence for command startup paths where a
// missing backend is fatal.
func MustPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	p, err := NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		panic(fmt.Errorf("failed to create persistence: %w", err))
	}

	return p
}
