// Package dispatch implements the idempotent command queue and the
// multi-kiosk coordinator. Kiosks poll it with heartbeats and receive the
// pending commands addressed to them; results are reported back per
// command id. Completion events flow into the state machine through the
// LockerTransitions callback interface, never the other way around.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/repomanager"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
	"github.com/google/uuid"
)

// LockerTransitions is the slice of the state machine the coordinator needs
// to apply command outcomes.
type LockerTransitions interface {
	ConfirmOwnership(ctx context.Context, kioskID string, lockerID int, ownerKey string) error
	ReleaseReservation(ctx context.Context, kioskID string, lockerID int, ownerKey string) error
	Release(ctx context.Context, kioskID string, lockerID int, ownerKey string, force bool) error
	Block(ctx context.Context, kioskID string, lockerID int) error
	Unblock(ctx context.Context, kioskID string, lockerID int) error
	ListByKiosk(ctx context.Context, kioskID string) ([]models.Locker, error)
}

// Options tunes queue behaviour; zero values fall back to defaults.
type Options struct {
	// MaxAttempts is the delivery ceiling before a command fails terminally.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
	// LivenessThreshold is the heartbeat age beyond which a kiosk counts
	// as unreachable.
	LivenessThreshold time.Duration
	// DispatchLimit caps commands handed out per poll.
	DispatchLimit int
	// DispatchTimeout is how long a dispatched command may stay without a
	// result report before it is reclaimed for redelivery.
	DispatchTimeout time.Duration
	// Retention is how long terminal commands are kept for audit.
	Retention time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.LivenessThreshold <= 0 {
		o.LivenessThreshold = 30 * time.Second
	}
	if o.DispatchLimit <= 0 {
		o.DispatchLimit = 16
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 30 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
}

// Service is the command queue coordinator.
type Service struct {
	db          *sql.DB
	rm          repomanager.RepositoryManager
	transitions LockerTransitions
	opts        Options
	logger      logging.Logger
	now         func() time.Time
}

// NewService returns a coordinator bound to the given store and state machine.
func NewService(db *sql.DB, rm repomanager.RepositoryManager, tr LockerTransitions, opts Options, l logging.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		db:          db,
		rm:          rm,
		transitions: tr,
		opts:        opts,
		logger:      l.With("module", "dispatch"),
		now:         time.Now,
	}
}

// Enqueue stores a command in pending state. The command id is supplied by
// the producer; submitting an id that already exists returns the stored
// command unchanged, so duplicate submission after a terminal status is a
// no-op that yields the original result.
func (s *Service) Enqueue(ctx context.Context, c *models.Command) (*models.Command, error) {
	if c.CommandID == "" {
		c.CommandID = uuid.NewString()
	}
	repo := s.rm.Commands(s.db)

	existing, err := repo.Get(ctx, c.CommandID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	c.Status = models.CommandPending
	c.CreatedAt = s.now()
	if err := repo.Insert(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "command enqueued", "command_id", c.CommandID, "kiosk_id", c.KioskID, "type", c.Type)
	return c, nil
}

// Heartbeat refreshes the kiosk liveness record and hands out due pending
// commands, marking them dispatched. A command is never handed to two
// pollers: the pending->dispatched move is guarded in SQL.
func (s *Service) Heartbeat(ctx context.Context, kioskID string, reportedVersion string) ([]models.Command, error) {
	now := s.now()
	if err := s.rm.Heartbeats(s.db).Upsert(ctx, kioskID, now, reportedVersion); err != nil {
		return nil, err
	}
	return s.rm.Commands(s.db).ClaimPending(ctx, kioskID, now, s.opts.DispatchLimit)
}

// Report records a command outcome posted by the owning kiosk.
//
// A duplicate report against a terminal command is ignored. A failure below
// the attempt ceiling re-enqueues the same command id with exponential
// backoff; at the ceiling the command fails terminally, an alert is logged,
// and any dependent reservation is rolled back.
func (s *Service) Report(ctx context.Context, commandID string, success bool, detail string) error {
	repo := s.rm.Commands(s.db)
	c, err := repo.Get(ctx, commandID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return nil
	}

	if success {
		ok, err := repo.Complete(ctx, commandID, detail)
		if err != nil {
			return err
		}
		if ok {
			s.applyOutcome(ctx, c, true)
		}
		return nil
	}

	if c.Attempts < s.opts.MaxAttempts {
		next := s.now().Add(s.backoff(c.Attempts))
		_, err := repo.Requeue(ctx, commandID, next, detail)
		if err != nil {
			return err
		}
		s.logger.Warn(ctx, "command failed, retrying", "command_id", commandID,
			"attempts", c.Attempts, "next_attempt_at", next, "detail", detail)
		return nil
	}

	ok, err := repo.FailTerminal(ctx, commandID, detail)
	if err != nil {
		return err
	}
	if ok {
		// Retry ceiling exceeded: surface an alert and stop retrying.
		s.logger.Error(ctx, "command failed terminally", "command_id", commandID,
			"kiosk_id", c.KioskID, "type", c.Type, "attempts", c.Attempts, "detail", detail)
		s.applyOutcome(ctx, c, false)
	}
	return nil
}

// backoff doubles per completed attempt, starting at BackoffBase.
func (s *Service) backoff(attempts int) time.Duration {
	d := s.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.opts.BackoffMax {
			return s.opts.BackoffMax
		}
	}
	if d > s.opts.BackoffMax {
		d = s.opts.BackoffMax
	}
	return d
}

// applyOutcome feeds a terminal command result back into the state machine.
// Transition failures are logged, not returned: the command outcome is
// already recorded and the locker state is recoverable by staff.
func (s *Service) applyOutcome(ctx context.Context, c *models.Command, success bool) {
	var err error
	switch c.Type {
	case models.CommandOpenLocker:
		err = s.applyOpenOutcome(ctx, c, success)
	case models.CommandBlock:
		if success {
			err = s.transitions.Block(ctx, c.KioskID, c.Payload.LockerID)
		}
	case models.CommandUnblock:
		if success {
			err = s.transitions.Unblock(ctx, c.KioskID, c.Payload.LockerID)
		}
	}
	if err != nil {
		s.logger.Error(ctx, "failed to apply command outcome", "command_id", c.CommandID,
			"type", c.Type, "success", success, "error", err)
	}
}

func (s *Service) applyOpenOutcome(ctx context.Context, c *models.Command, success bool) error {
	p := c.Payload
	if !success {
		if p.OnSuccess == models.IntentOwn {
			// The open never happened; the reservation must not leak.
			return s.transitions.ReleaseReservation(ctx, c.KioskID, p.LockerID, p.OwnerKey)
		}
		return nil
	}
	switch p.OnSuccess {
	case models.IntentOwn:
		return s.transitions.ConfirmOwnership(ctx, c.KioskID, p.LockerID, p.OwnerKey)
	case models.IntentRelease:
		return s.transitions.Release(ctx, c.KioskID, p.LockerID, p.OwnerKey, false)
	}
	return nil
}

// BulkOpenOptions controls VIP handling on bulk operations.
type BulkOpenOptions struct {
	// ExcludeVip skips VIP lockers; it is the default staff behaviour.
	ExcludeVip bool
	// Override includes VIP lockers despite ExcludeVip. VIP lockers opened
	// under override keep their owner; release stays an explicit staff call.
	Override bool
}

// BulkItem is the per-locker outcome of a bulk operation.
type BulkItem struct {
	LockerID  int    `json:"locker_id"`
	CommandID string `json:"command_id,omitempty"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// BulkReport summarizes a bulk operation.
type BulkReport struct {
	BatchID string     `json:"batch_id"`
	Items   []BulkItem `json:"items"`
}

// BulkOpen expands a bulk open into one command per target locker, sharing
// a batch id. An empty lockerIDs slice targets every locker on the kiosk.
// Owned non-VIP lockers are released after opening (end-of-day release);
// VIP lockers are skipped with reason "vip" unless overridden.
func (s *Service) BulkOpen(ctx context.Context, kioskID string, lockerIDs []int, opts BulkOpenOptions) (*BulkReport, error) {
	all, err := s.transitions.ListByKiosk(ctx, kioskID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]models.Locker, len(all))
	for _, l := range all {
		byID[l.LockerID] = l
	}
	if len(lockerIDs) == 0 {
		for _, l := range all {
			lockerIDs = append(lockerIDs, l.LockerID)
		}
	}

	report := &BulkReport{BatchID: uuid.NewString()}
	for _, id := range lockerIDs {
		l, ok := byID[id]
		if !ok {
			report.Items = append(report.Items, BulkItem{LockerID: id, Skipped: true, Reason: "unknown"})
			continue
		}
		if l.Status == models.LockerBlocked {
			report.Items = append(report.Items, BulkItem{LockerID: id, Skipped: true, Reason: "blocked"})
			continue
		}
		if l.IsVip && opts.ExcludeVip && !opts.Override {
			report.Items = append(report.Items, BulkItem{LockerID: id, Skipped: true, Reason: "vip"})
			continue
		}

		intent := models.IntentNone
		if l.Status == models.LockerOwned && !l.IsVip {
			intent = models.IntentRelease
		}
		cmd := &models.Command{
			CommandID: uuid.NewString(),
			KioskID:   kioskID,
			Type:      models.CommandOpenLocker,
			BatchID:   report.BatchID,
			Payload: models.CommandPayload{
				LockerID:  id,
				OwnerKey:  l.OwnerKey,
				OnSuccess: intent,
			},
		}
		if _, err := s.Enqueue(ctx, cmd); err != nil {
			return nil, err
		}
		report.Items = append(report.Items, BulkItem{LockerID: id, CommandID: cmd.CommandID})
	}
	return report, nil
}

// KioskStatus is the staff-facing view of one kiosk.
type KioskStatus struct {
	KioskID         string    `json:"kiosk_id"`
	Online          bool      `json:"online"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	ReportedVersion string    `json:"reported_version"`
	PendingCommands int       `json:"pending_commands"`
}

// KioskStatuses reports liveness and queue depth for every known kiosk.
// Commands addressed to an offline kiosk stay pending; the status makes
// the backlog visible to staff instead of silently dropping it.
func (s *Service) KioskStatuses(ctx context.Context) ([]KioskStatus, error) {
	hbs, err := s.rm.Heartbeats(s.db).List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := make([]KioskStatus, 0, len(hbs))
	for _, hb := range hbs {
		pending, err := s.rm.Commands(s.db).CountPending(ctx, hb.KioskID)
		if err != nil {
			return nil, err
		}
		result = append(result, KioskStatus{
			KioskID:         hb.KioskID,
			Online:          hb.Online(now, s.opts.LivenessThreshold),
			LastSeenAt:      hb.LastSeenAt,
			ReportedVersion: hb.ReportedVersion,
			PendingCommands: pending,
		})
	}
	return result, nil
}

// KioskOnline reports whether a kiosk heartbeat is within the liveness
// threshold. Unknown kiosks count as offline.
func (s *Service) KioskOnline(ctx context.Context, kioskID string) (bool, error) {
	hb, err := s.rm.Heartbeats(s.db).Get(ctx, kioskID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return hb.Online(s.now(), s.opts.LivenessThreshold), nil
}

// GetCommand returns one command row for staff inspection.
func (s *Service) GetCommand(ctx context.Context, commandID string) (*models.Command, error) {
	return s.rm.Commands(s.db).Get(ctx, commandID)
}

// BatchStatus returns every command sharing a bulk batch id.
func (s *Service) BatchStatus(ctx context.Context, batchID string) ([]models.Command, error) {
	return s.rm.Commands(s.db).ListByBatch(ctx, batchID)
}

// ReclaimStuck returns commands stranded in dispatched back to the queue.
// A kiosk that claims a command and then crashes, or loses every result
// report, would otherwise hold it non-terminal forever. Below the attempt
// ceiling the command is requeued with the usual backoff; at the ceiling it
// fails terminally exactly like a reported failure, rolling back any
// dependent reservation.
func (s *Service) ReclaimStuck(ctx context.Context) error {
	repo := s.rm.Commands(s.db)
	cutoff := s.now().Add(-s.opts.DispatchTimeout)
	stuck, err := repo.ListStuck(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stuck {
		c := stuck[i]
		if c.Attempts >= s.opts.MaxAttempts {
			detail := ErrUnreachable(c.KioskID).Error()
			ok, err := repo.FailTerminal(ctx, c.CommandID, detail)
			if err != nil {
				return err
			}
			if ok {
				s.logger.Error(ctx, "command failed terminally", "command_id", c.CommandID,
					"kiosk_id", c.KioskID, "type", c.Type, "attempts", c.Attempts, "detail", detail)
				s.applyOutcome(ctx, &c, false)
			}
			continue
		}
		next := s.now().Add(s.backoff(c.Attempts))
		ok, err := repo.Requeue(ctx, c.CommandID, next, "no result reported, redelivering")
		if err != nil {
			return err
		}
		if ok {
			s.logger.Warn(ctx, "command reclaimed for redelivery", "command_id", c.CommandID,
				"kiosk_id", c.KioskID, "attempts", c.Attempts, "next_attempt_at", next)
		}
	}
	return nil
}

// RunReclaimer redelivers unacknowledged dispatched commands on a ticker
// until the context is cancelled.
func (s *Service) RunReclaimer(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.ReclaimStuck(ctx); err != nil {
				s.logger.Error(ctx, "command reclaim failed", "error", err)
			}
		}
	}
}

// RunJanitor prunes terminal commands past the retention window on a ticker
// until the context is cancelled.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cutoff := s.now().Add(-s.opts.Retention)
			n, err := s.rm.Commands(s.db).PruneTerminal(ctx, cutoff)
			if err != nil {
				s.logger.Error(ctx, "command pruning failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "pruned terminal commands", "count", n)
			}
		}
	}
}

// ErrUnreachable wraps the shared unreachable sentinel with the kiosk id;
// it is the recorded failure detail when a kiosk never reports a result.
func ErrUnreachable(kioskID string) error {
	return fmt.Errorf("kiosk %s: %w", kioskID, common.ErrKioskUnreachable)
}
