// Package cmd holds the shared wiring helpers used by the binary entry point.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/smsbridge/pkg/persistence"
	"github.com/dukex/smsbridge/pkg/persistence/file"
	"github.com/dukex/smsbridge/pkg/persistence/postgresql"
)

// NewPersistence creates the record store selected by the database url
// scheme. Postgres urls get the SQL store; anything else is treated as a file
// store root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Store, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewStore(ctx, logger, databaseURL)
	default:
		return file.NewStore(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
