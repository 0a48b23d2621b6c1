// Package statemachine enforces the locker lifecycle:
//
//	Free -> Reserved -> Owned -> Free
//
// plus Blocked, reachable from any state by staff action and returning only
// to Free. Every transition is a compare-and-swap on the locker version; a
// stale version fails with common.ErrConflict and mutates nothing.
package statemachine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/repomanager"
	"github.com/dmitrijs2005/kioskeeper/internal/dbx"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
)

// Service applies locker transitions against the store.
type Service struct {
	db             *sql.DB
	rm             repomanager.RepositoryManager
	reservationTTL time.Duration
	logger         logging.Logger
	now            func() time.Time
}

// NewService returns a state machine bound to the given store. reservationTTL
// is the age after which a Reserved locker is swept back to Free.
func NewService(db *sql.DB, rm repomanager.RepositoryManager, reservationTTL time.Duration, l logging.Logger) *Service {
	return &Service{
		db:             db,
		rm:             rm,
		reservationTTL: reservationTTL,
		logger:         l.With("module", "statemachine"),
		now:            time.Now,
	}
}

// LockerSpec describes one locker to provision for a kiosk.
type LockerSpec struct {
	LockerID    int
	IsVip       bool
	DisplayName string
}

// Provision creates locker rows for the configured relay channels. Existing
// rows are left untouched, so provisioning is safe to repeat on startup.
func (s *Service) Provision(ctx context.Context, kioskID string, specs []LockerSpec) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Lockers(tx)
		for _, spec := range specs {
			l := &models.Locker{
				KioskID:     kioskID,
				LockerID:    spec.LockerID,
				Status:      models.LockerFree,
				IsVip:       spec.IsVip,
				DisplayName: spec.DisplayName,
			}
			if err := repo.Create(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns one locker.
func (s *Service) Get(ctx context.Context, kioskID string, lockerID int) (*models.Locker, error) {
	return s.rm.Lockers(s.db).Get(ctx, kioskID, lockerID)
}

// ListByKiosk returns every locker for a kiosk.
func (s *Service) ListByKiosk(ctx context.Context, kioskID string) ([]models.Locker, error) {
	return s.rm.Lockers(s.db).ListByKiosk(ctx, kioskID)
}

// ListFree returns up to limit free lockers for a kiosk.
func (s *Service) ListFree(ctx context.Context, kioskID string, limit int) ([]models.Locker, error) {
	return s.rm.Lockers(s.db).ListFree(ctx, kioskID, limit)
}

// FindByOwner returns the locker currently held by ownerKey, if any.
func (s *Service) FindByOwner(ctx context.Context, ownerKey string) (*models.Locker, error) {
	return s.rm.Lockers(s.db).FindByOwner(ctx, ownerKey)
}

// Reserve moves a Free locker to Reserved for ownerKey.
//
// The caller presents the version it last read; a stale version fails with
// ErrConflict, a locker that is not Free fails with ErrInvalidState, and an
// owner that already holds another locker fails with ErrInvalidState (the
// session flow is expected to have short-circuited to "open existing").
func (s *Service) Reserve(ctx context.Context, kioskID string, lockerID int, ownerKey string, expectedVersion int64) (*models.Locker, error) {
	var reserved *models.Locker
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Lockers(tx)

		l, err := repo.Get(ctx, kioskID, lockerID)
		if err != nil {
			return err
		}
		if l.Version != expectedVersion {
			return fmt.Errorf("locker %s/%d: %w", kioskID, lockerID, common.ErrConflict)
		}
		if l.Status != models.LockerFree {
			return fmt.Errorf("locker %s/%d is %s: %w", kioskID, lockerID, l.Status, common.ErrInvalidState)
		}

		held, err := repo.FindByOwner(ctx, ownerKey)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if held != nil {
			return fmt.Errorf("owner already holds locker %s/%d: %w", held.KioskID, held.LockerID, common.ErrInvalidState)
		}

		now := s.now()
		l.Status = models.LockerReserved
		l.OwnerKey = ownerKey
		l.ReservedAt = &now
		ok, err := repo.UpdateCAS(ctx, l, expectedVersion)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("locker %s/%d: %w", kioskID, lockerID, common.ErrConflict)
		}
		reserved = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// ConfirmOwnership moves a Reserved locker to Owned after the physical open
// succeeded. The reservation must belong to ownerKey.
func (s *Service) ConfirmOwnership(ctx context.Context, kioskID string, lockerID int, ownerKey string) error {
	return s.transition(ctx, kioskID, lockerID, func(l *models.Locker) error {
		if l.Status != models.LockerReserved || l.OwnerKey != ownerKey {
			return fmt.Errorf("locker %s/%d is %s: %w", kioskID, lockerID, l.Status, common.ErrInvalidState)
		}
		now := s.now()
		l.Status = models.LockerOwned
		l.OwnedAt = &now
		return nil
	})
}

// ReleaseReservation rolls a Reserved locker back to Free, used when the
// physical open failed so the reservation does not leak. Rolling back a
// locker that is already Free is a no-op.
func (s *Service) ReleaseReservation(ctx context.Context, kioskID string, lockerID int, ownerKey string) error {
	err := s.transition(ctx, kioskID, lockerID, func(l *models.Locker) error {
		if l.Status == models.LockerFree {
			return errSkipTransition
		}
		if l.Status != models.LockerReserved || l.OwnerKey != ownerKey {
			return fmt.Errorf("locker %s/%d is %s: %w", kioskID, lockerID, l.Status, common.ErrInvalidState)
		}
		clearOwner(l)
		return nil
	})
	if errors.Is(err, errSkipTransition) {
		return nil
	}
	return err
}

// Release moves an Owned locker back to Free, clearing the owner key.
//
// When ownerKey is non-empty it must match the current owner. VIP lockers
// are only released when force is set (staff release); a normal release
// against a VIP locker fails with ErrVipProtected.
func (s *Service) Release(ctx context.Context, kioskID string, lockerID int, ownerKey string, force bool) error {
	return s.transition(ctx, kioskID, lockerID, func(l *models.Locker) error {
		if l.Status != models.LockerOwned {
			return fmt.Errorf("locker %s/%d is %s: %w", kioskID, lockerID, l.Status, common.ErrInvalidState)
		}
		if ownerKey != "" && l.OwnerKey != ownerKey {
			return fmt.Errorf("locker %s/%d owned by another key: %w", kioskID, lockerID, common.ErrInvalidState)
		}
		if l.IsVip && !force {
			return fmt.Errorf("locker %s/%d: %w", kioskID, lockerID, common.ErrVipProtected)
		}
		clearOwner(l)
		return nil
	})
}

// Block moves a locker to Blocked from any state, clearing any owner.
// Staff-only; bypasses ownership checks.
func (s *Service) Block(ctx context.Context, kioskID string, lockerID int) error {
	return s.transition(ctx, kioskID, lockerID, func(l *models.Locker) error {
		clearOwner(l)
		l.Status = models.LockerBlocked
		return nil
	})
}

// Unblock returns a Blocked locker to Free.
func (s *Service) Unblock(ctx context.Context, kioskID string, lockerID int) error {
	return s.transition(ctx, kioskID, lockerID, func(l *models.Locker) error {
		if l.Status != models.LockerBlocked {
			return fmt.Errorf("locker %s/%d is %s: %w", kioskID, lockerID, l.Status, common.ErrInvalidState)
		}
		l.Status = models.LockerFree
		return nil
	})
}

// SweepExpiredReservations frees every reservation older than the
// reservation TTL and returns the number released.
func (s *Service) SweepExpiredReservations(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.reservationTTL)
	return s.rm.Lockers(s.db).SweepExpiredReservations(ctx, cutoff)
}

// RunSweeper runs the reservation-expiry sweep on a ticker until the
// context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepExpiredReservations(ctx)
			if err != nil {
				s.logger.Error(ctx, "reservation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "released expired reservations", "count", n)
			}
		}
	}
}

// errSkipTransition aborts a transition closure without an error surface.
var errSkipTransition = errors.New("skip transition")

// transition loads the locker inside a transaction, applies mutate, and
// writes it back guarded by the version that was read.
func (s *Service) transition(ctx context.Context, kioskID string, lockerID int, mutate func(*models.Locker) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Lockers(tx)
		l, err := repo.Get(ctx, kioskID, lockerID)
		if err != nil {
			return err
		}
		readVersion := l.Version
		if err := mutate(l); err != nil {
			return err
		}
		ok, err := repo.UpdateCAS(ctx, l, readVersion)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("locker %s/%d: %w", kioskID, lockerID, common.ErrConflict)
		}
		return nil
	})
}

func clearOwner(l *models.Locker) {
	l.Status = models.LockerFree
	l.OwnerKey = ""
	l.ReservedAt = nil
	l.OwnedAt = nil
}
