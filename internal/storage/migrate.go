package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	logx "learnbyemail/pkg/logx"
)

//go:embed migrations
var migrationsFS embed.FS

func (s *SQLStore) migrationDir() string {
	if s.dialect == goose.DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// migrate applies pending migrations. The goose Provider keeps no global
// state, so several stores can migrate concurrently (tests do).
func (s *SQLStore) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, s.migrationDir())
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(s.dialect, s.db, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, r := range results {
		s.log.Info("migration applied", logx.Int64("version", r.Source.Version), logx.Duration("took", r.Duration))
	}
	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	s.log.Debug("schema ready", logx.Int64("version", version))
	return nil
}
