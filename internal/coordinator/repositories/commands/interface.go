// Package commands persists the idempotent per-kiosk command queue.
package commands

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
)

// Repository is the storage contract for the command queue.
//
// Status transitions are guarded in SQL (WHERE status=...) so that two
// concurrent pollers can never both claim the same pending command, and a
// late duplicate result report cannot overwrite a terminal status.
type Repository interface {
	// Insert stores a brand-new command in pending state.
	Insert(ctx context.Context, c *models.Command) error

	// Get returns one command or common.ErrNotFound.
	Get(ctx context.Context, commandID string) (*models.Command, error)

	// ClaimPending atomically moves up to limit due pending commands for a
	// kiosk to dispatched, stamping last_attempt_at and incrementing
	// attempts. Claimed commands are returned in creation order.
	ClaimPending(ctx context.Context, kioskID string, now time.Time, limit int) ([]models.Command, error)

	// Complete records a successful result; returns false if the command
	// was already terminal.
	Complete(ctx context.Context, commandID string, result string) (bool, error)

	// Requeue returns a dispatched/executing command to pending with a
	// retry deadline; returns false if the command was already terminal.
	Requeue(ctx context.Context, commandID string, nextAttempt time.Time, detail string) (bool, error)

	// FailTerminal marks a command as terminally failed with error detail;
	// returns false if the command was already terminal.
	FailTerminal(ctx context.Context, commandID string, detail string) (bool, error)

	// ListStuck returns dispatched/executing commands whose last delivery
	// is not newer than cutoff, in creation order. They were handed to a
	// kiosk that never reported a result.
	ListStuck(ctx context.Context, cutoff time.Time) ([]models.Command, error)

	// ListByBatch returns every command sharing a bulk batch id.
	ListByBatch(ctx context.Context, batchID string) ([]models.Command, error)

	// CountPending returns the number of non-terminal commands for a kiosk.
	CountPending(ctx context.Context, kioskID string) (int, error)

	// PruneTerminal deletes terminal commands created before cutoff and
	// returns the number removed.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}
