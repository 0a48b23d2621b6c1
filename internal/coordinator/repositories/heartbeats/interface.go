// Package heartbeats persists kiosk liveness records.
package heartbeats

import (
	"context"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
)

// Repository is the storage contract for kiosk heartbeats.
type Repository interface {
	// Upsert refreshes the heartbeat row for a kiosk.
	Upsert(ctx context.Context, kioskID string, seenAt time.Time, reportedVersion string) error

	// Get returns the heartbeat for one kiosk or common.ErrNotFound.
	Get(ctx context.Context, kioskID string) (*models.KioskHeartbeat, error)

	// List returns every known kiosk heartbeat, ordered by kiosk id.
	List(ctx context.Context) ([]models.KioskHeartbeat, error)
}
