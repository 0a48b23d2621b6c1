package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/migrations"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/commands"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/heartbeats"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/lockers"
	"github.com/dmitrijs2005/kioskeeper/internal/dbx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

type SQLiteRepositoryManager struct {
}

func NewSQLiteRepositoryManager() (RepositoryManager, error) {
	return &SQLiteRepositoryManager{}, nil
}

func (m *SQLiteRepositoryManager) Lockers(db dbx.DBTX) lockers.Repository {
	return lockers.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Commands(db dbx.DBTX) commands.Repository {
	return commands.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Heartbeats(db dbx.DBTX) heartbeats.Repository {
	return heartbeats.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}
