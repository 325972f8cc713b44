package store

import (
	"context"
	"embed"

	"github.com/pressly/goose/v3"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending forward-only migration under
// migrations/, tracked in goose's schema_migrations-equivalent table.
// Each migration file runs in its own transaction.
func (s *PGStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "setting migration dialect")
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransient, "applying migrations")
	}
	return nil
}
