// Package repomanager wires the coordinator repositories to a concrete
// storage backend and owns schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/commands"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/heartbeats"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/lockers"
	"github.com/dmitrijs2005/kioskeeper/internal/dbx"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Lockers(db dbx.DBTX) lockers.Repository
	Commands(db dbx.DBTX) commands.Repository
	Heartbeats(db dbx.DBTX) heartbeats.Repository
}
