package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidewire/tidewire/pkg/persistence"
	"github.com/tidewire/tidewire/pkg/persistence/file"
	"github.com/tidewire/tidewire/pkg/persistence/postgresql"
)

// NewPersistence picks the backend from the URL scheme. postgres:// and
// postgresql:// use PostgreSQL; file://path and bare paths use the JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgresql persistence: %w", err)
		}

		return p, nil
	default:
		p, err := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to open file persistence: %w", err)
		}

		return p, nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch provider {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
