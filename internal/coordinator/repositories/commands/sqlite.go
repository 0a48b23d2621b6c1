package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const commandColumns = `command_id, kiosk_id, type, payload, status, attempts, batch_id, result, created_at, last_attempt_at, next_attempt_at`

func (r *SQLiteRepository) Insert(ctx context.Context, c *models.Command) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	query := ` INSERT INTO commands (command_id, kiosk_id, type, payload, status, attempts, batch_id, created_at)
			values (?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.CommandID, c.KioskID, c.Type, string(payload), models.CommandPending,
		nullString(c.BatchID), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, commandID string) (*models.Command, error) {
	query := `select ` + commandColumns + ` from commands where command_id=?`
	row := r.db.QueryRowContext(ctx, query, commandID)
	c, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return c, nil
}

// ClaimPending selects due pending commands, then claims each with a
// guarded update. Rows lost to a concurrent poller are skipped silently.
func (r *SQLiteRepository) ClaimPending(ctx context.Context, kioskID string, now time.Time, limit int) ([]models.Command, error) {
	query := `select ` + commandColumns + ` from commands
			where kiosk_id=? and status=? and (next_attempt_at is null or next_attempt_at <= ?)
			order by created_at limit ?`
	rows, err := r.db.QueryContext(ctx, query, kioskID, models.CommandPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending commands: %w", err)
	}
	candidates, err := collect(rows)
	if err != nil {
		return nil, err
	}

	claim := `update commands set status=?, attempts=attempts+1, last_attempt_at=? where command_id=? and status=?`
	var claimed []models.Command
	for _, c := range candidates {
		res, err := r.db.ExecContext(ctx, claim, models.CommandDispatched, now, c.CommandID, models.CommandPending)
		if err != nil {
			return nil, fmt.Errorf("failed to claim command: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if ra != 1 {
			continue
		}
		c.Status = models.CommandDispatched
		c.Attempts++
		t := now
		c.LastAttemptAt = &t
		claimed = append(claimed, c)
	}
	return claimed, nil
}

func (r *SQLiteRepository) Complete(ctx context.Context, commandID string, result string) (bool, error) {
	query := `update commands set status=?, result=? where command_id=? and status in (?, ?)`
	return r.guardedUpdate(ctx, query, models.CommandCompleted, result, commandID,
		models.CommandDispatched, models.CommandExecuting)
}

func (r *SQLiteRepository) Requeue(ctx context.Context, commandID string, nextAttempt time.Time, detail string) (bool, error) {
	query := `update commands set status=?, result=?, next_attempt_at=? where command_id=? and status in (?, ?)`
	return r.guardedUpdate(ctx, query, models.CommandPending, detail, nextAttempt, commandID,
		models.CommandDispatched, models.CommandExecuting)
}

func (r *SQLiteRepository) FailTerminal(ctx context.Context, commandID string, detail string) (bool, error) {
	query := `update commands set status=?, result=? where command_id=? and status not in (?, ?)`
	return r.guardedUpdate(ctx, query, models.CommandFailed, detail, commandID,
		models.CommandCompleted, models.CommandFailed)
}

func (r *SQLiteRepository) ListStuck(ctx context.Context, cutoff time.Time) ([]models.Command, error) {
	query := `select ` + commandColumns + ` from commands
			where status in (?, ?) and last_attempt_at <= ?
			order by created_at`
	rows, err := r.db.QueryContext(ctx, query, models.CommandDispatched, models.CommandExecuting, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select stuck commands: %w", err)
	}
	return collect(rows)
}

func (r *SQLiteRepository) ListByBatch(ctx context.Context, batchID string) ([]models.Command, error) {
	query := `select ` + commandColumns + ` from commands where batch_id=? order by created_at`
	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to select batch commands: %w", err)
	}
	return collect(rows)
}

func (r *SQLiteRepository) CountPending(ctx context.Context, kioskID string) (int, error) {
	query := `select count(*) from commands where kiosk_id=? and status not in (?, ?)`
	var n int
	err := r.db.QueryRowContext(ctx, query, kioskID, models.CommandCompleted, models.CommandFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending commands: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `delete from commands where status in (?, ?) and created_at < ?`
	res, err := r.db.ExecContext(ctx, query, models.CommandCompleted, models.CommandFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune commands: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) guardedUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update command: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra == 1, nil
}

func collect(rows *sql.Rows) ([]models.Command, error) {
	defer rows.Close()
	var result []models.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*models.Command, error) {
	c := &models.Command{}
	var payload string
	var batch, result sql.NullString
	var lastAttempt, nextAttempt sql.NullTime
	err := row.Scan(&c.CommandID, &c.KioskID, &c.Type, &payload, &c.Status, &c.Attempts,
		&batch, &result, &c.CreatedAt, &lastAttempt, &nextAttempt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	c.BatchID = batch.String
	c.Result = result.String
	if lastAttempt.Valid {
		t := lastAttempt.Time
		c.LastAttemptAt = &t
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		c.NextAttemptAt = &t
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
