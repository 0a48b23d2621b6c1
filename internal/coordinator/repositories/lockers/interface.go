// Package lockers persists locker records with optimistic versioning.
package lockers

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
)

// Repository is the storage contract for locker records. All mutating
// operations are compare-and-swap on the version column: UpdateCAS reports
// false (without error) when the presented version is stale.
type Repository interface {
	// Create inserts a locker at provisioning time. Existing rows are left
	// untouched so provisioning is re-runnable.
	Create(ctx context.Context, l *models.Locker) error

	// Get returns one locker or common.ErrNotFound.
	Get(ctx context.Context, kioskID string, lockerID int) (*models.Locker, error)

	// ListByKiosk returns every locker configured for a kiosk, ordered by id.
	ListByKiosk(ctx context.Context, kioskID string) ([]models.Locker, error)

	// ListFree returns up to limit free, non-blocked lockers for a kiosk.
	ListFree(ctx context.Context, kioskID string, limit int) ([]models.Locker, error)

	// FindByOwner returns the locker currently reserved or owned by the
	// given owner key, or common.ErrNotFound.
	FindByOwner(ctx context.Context, ownerKey string) (*models.Locker, error)

	// UpdateCAS writes status, owner and timestamps from l, guarded by
	// expectedVersion. On success the stored version becomes
	// expectedVersion+1 and true is returned; a stale version returns false.
	UpdateCAS(ctx context.Context, l *models.Locker, expectedVersion int64) (bool, error)

	// SweepExpiredReservations frees every reservation older than cutoff
	// and returns the number of lockers released.
	SweepExpiredReservations(ctx context.Context, cutoff time.Time) (int64, error)
}
