package lockers

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

const lockerColumns = `kiosk_id, locker_id, status, is_vip, owner_key, version, reserved_at, owned_at, display_name`

func (r *SQLiteRepository) Create(ctx context.Context, l *models.Locker) error {
	query := ` INSERT INTO lockers (kiosk_id, locker_id, status, is_vip, version, display_name)
			values (?, ?, ?, ?, 1, ?)
			ON CONFLICT(kiosk_id, locker_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		l.KioskID, l.LockerID, models.LockerFree, l.IsVip, nullString(l.DisplayName))
	if err != nil {
		return fmt.Errorf("failed to insert locker: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kioskID string, lockerID int) (*models.Locker, error) {
	query := `select ` + lockerColumns + ` from lockers where kiosk_id=? and locker_id=?`
	row := r.db.QueryRowContext(ctx, query, kioskID, lockerID)
	return scanLocker(row)
}

func (r *SQLiteRepository) ListByKiosk(ctx context.Context, kioskID string) ([]models.Locker, error) {
	query := `select ` + lockerColumns + ` from lockers where kiosk_id=? order by locker_id`
	return r.list(ctx, query, kioskID)
}

func (r *SQLiteRepository) ListFree(ctx context.Context, kioskID string, limit int) ([]models.Locker, error) {
	query := `select ` + lockerColumns + ` from lockers where kiosk_id=? and status=? order by locker_id limit ?`
	return r.list(ctx, query, kioskID, models.LockerFree, limit)
}

func (r *SQLiteRepository) FindByOwner(ctx context.Context, ownerKey string) (*models.Locker, error) {
	query := `select ` + lockerColumns + ` from lockers where owner_key=? and status in (?, ?)`
	row := r.db.QueryRowContext(ctx, query, ownerKey, models.LockerReserved, models.LockerOwned)
	return scanLocker(row)
}

func (r *SQLiteRepository) UpdateCAS(ctx context.Context, l *models.Locker, expectedVersion int64) (bool, error) {
	query := `update lockers set status=?, owner_key=?, reserved_at=?, owned_at=?, version=version+1
			where kiosk_id=? and locker_id=? and version=?`
	res, err := r.db.ExecContext(ctx, query,
		l.Status, nullString(l.OwnerKey), nullTime(l.ReservedAt), nullTime(l.OwnedAt),
		l.KioskID, l.LockerID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update locker: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 1 {
		l.Version = expectedVersion + 1
	}
	return ra == 1, nil
}

func (r *SQLiteRepository) SweepExpiredReservations(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `update lockers set status=?, owner_key=NULL, reserved_at=NULL, version=version+1
			where status=? and reserved_at < ?`
	res, err := r.db.ExecContext(ctx, query, models.LockerFree, models.LockerReserved, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Locker, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select lockers: %w", err)
	}
	defer rows.Close()

	var result []models.Locker
	for rows.Next() {
		item, err := scanLockerRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockerRow(row rowScanner) (*models.Locker, error) {
	l := &models.Locker{}
	var owner, name sql.NullString
	var reservedAt, ownedAt sql.NullTime
	err := row.Scan(&l.KioskID, &l.LockerID, &l.Status, &l.IsVip, &owner, &l.Version, &reservedAt, &ownedAt, &name)
	if err != nil {
		return nil, err
	}
	l.OwnerKey = owner.String
	l.DisplayName = name.String
	if reservedAt.Valid {
		t := reservedAt.Time
		l.ReservedAt = &t
	}
	if ownedAt.Valid {
		t := ownedAt.Time
		l.OwnedAt = &t
	}
	return l, nil
}

func scanLocker(row *sql.Row) (*models.Locker, error) {
	l, err := scanLockerRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
