package heartbeats

import (
	"context"
	"database/sql"
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

func (r *SQLiteRepository) Upsert(ctx context.Context, kioskID string, seenAt time.Time, reportedVersion string) error {
	query := ` INSERT INTO kiosk_heartbeats (kiosk_id, last_seen_at, reported_version)
			values (?, ?, ?)
			ON CONFLICT(kiosk_id) DO UPDATE SET last_seen_at = excluded.last_seen_at,
				reported_version = excluded.reported_version
	`
	_, err := r.db.ExecContext(ctx, query, kioskID, seenAt, reportedVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kioskID string) (*models.KioskHeartbeat, error) {
	query := `select kiosk_id, last_seen_at, reported_version from kiosk_heartbeats where kiosk_id=?`
	row := r.db.QueryRowContext(ctx, query, kioskID)
	h := &models.KioskHeartbeat{}
	if err := row.Scan(&h.KioskID, &h.LastSeenAt, &h.ReportedVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return h, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.KioskHeartbeat, error) {
	query := `select kiosk_id, last_seen_at, reported_version from kiosk_heartbeats order by kiosk_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select heartbeats: %w", err)
	}
	defer rows.Close()

	var result []models.KioskHeartbeat
	for rows.Next() {
		var h models.KioskHeartbeat
		if err := rows.Scan(&h.KioskID, &h.LastSeenAt, &h.ReportedVersion); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
