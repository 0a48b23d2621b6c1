// Package sessions tracks bounded-lifetime access sessions: one user's
// pending locker choice at a kiosk, created by a card or QR scan.
//
// The manager is a keyed single-writer map (kiosk id -> session) with
// per-kiosk locking: concurrent scans on one kiosk are strictly ordered by
// arrival and the last scan wins. The expiry sweep runs outside any kiosk
// flow, so session fields are additionally guarded by the manager mutex.
// Sessions live in memory only; after a restart the reservation sweep
// reconciles any state they left behind.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
	"github.com/google/uuid"
)

// Reserver is the slice of the state machine the session flow needs.
type Reserver interface {
	FindByOwner(ctx context.Context, ownerKey string) (*models.Locker, error)
	ListFree(ctx context.Context, kioskID string, limit int) ([]models.Locker, error)
	Get(ctx context.Context, kioskID string, lockerID int) (*models.Locker, error)
	Reserve(ctx context.Context, kioskID string, lockerID int, ownerKey string, expectedVersion int64) (*models.Locker, error)
}

// Enqueuer is the slice of the command queue the session flow needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, c *models.Command) (*models.Command, error)
}

// Options tunes session behaviour; zero values fall back to defaults.
type Options struct {
	// TTL is the session lifetime from creation.
	TTL time.Duration
	// Candidates is how many free lockers a new session offers.
	Candidates int
	// Retention is how long terminal sessions stay in memory before GC.
	Retention time.Duration
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.Candidates <= 0 {
		o.Candidates = 3
	}
	if o.Retention <= 0 {
		o.Retention = 5 * time.Minute
	}
}

// Manager owns the in-memory session table.
type Manager struct {
	machine Reserver
	queue   Enqueuer
	opts    Options
	logger  logging.Logger
	now     func() time.Time

	// mu guards the maps and the mutable fields of every stored session.
	// The per-kiosk locks only order the scan/select flows.
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	byKiosk map[string]*models.AccessSession
	byID    map[string]*models.AccessSession
}

// NewManager returns a session manager wired to the state machine and queue.
func NewManager(machine Reserver, queue Enqueuer, opts Options, l logging.Logger) *Manager {
	opts.applyDefaults()
	return &Manager{
		machine: machine,
		queue:   queue,
		opts:    opts,
		logger:  l.With("module", "sessions"),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		byKiosk: make(map[string]*models.AccessSession),
		byID:    make(map[string]*models.AccessSession),
	}
}

// kioskLock returns the mutex serializing all session activity for one kiosk.
func (m *Manager) kioskLock(kioskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[kioskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[kioskID] = l
	}
	return l
}

// ScanResult is the outcome of a card scan.
//
// Either ExistingOpen is set (the card already holds a locker and an open
// command was issued directly) or Session describes the candidate-list flow.
type ScanResult struct {
	ExistingOpen bool
	LockerID     int
	CommandID    string
	Released     bool

	SessionID        string
	CandidateLockers []int
	ExpiresIn        time.Duration
}

// Scan handles a card or QR scan at a kiosk.
//
// If the card already holds a locker, the flow short-circuits to an open
// command for that locker: open-and-release for an owned non-VIP locker,
// open-only for VIP (ownership persists until staff release), and a
// reservation retry for a locker stuck in Reserved. Otherwise the previous
// active session for the kiosk is cancelled and a new one is created with a
// candidate list and a countdown.
func (m *Manager) Scan(ctx context.Context, kioskID string, card string) (*ScanResult, error) {
	lock := m.kioskLock(kioskID)
	lock.Lock()
	defer lock.Unlock()

	held, err := m.machine.FindByOwner(ctx, card)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if held != nil {
		return m.openExisting(ctx, held, card)
	}

	free, err := m.machine.ListFree(ctx, kioskID, m.opts.Candidates)
	if err != nil {
		return nil, err
	}
	if len(free) == 0 {
		return nil, fmt.Errorf("no free lockers on kiosk %s: %w", kioskID, common.ErrNotFound)
	}

	m.cancelActiveLocked(kioskID)

	now := m.now()
	session := &models.AccessSession{
		SessionID:   uuid.NewString(),
		KioskID:     kioskID,
		CardOrToken: card,
		Status:      models.SessionActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.opts.TTL),
	}
	for _, l := range free {
		session.CandidateLockers = append(session.CandidateLockers, l.LockerID)
	}

	m.mu.Lock()
	m.byKiosk[kioskID] = session
	m.byID[session.SessionID] = session
	m.mu.Unlock()

	m.logger.Info(ctx, "session created", "session_id", session.SessionID,
		"kiosk_id", kioskID, "candidates", len(session.CandidateLockers))

	return &ScanResult{
		SessionID:        session.SessionID,
		CandidateLockers: session.CandidateLockers,
		ExpiresIn:        session.ExpiresAt.Sub(now),
	}, nil
}

// openExisting issues the open command for a locker the card already holds.
// No session object is needed for this flow.
func (m *Manager) openExisting(ctx context.Context, held *models.Locker, card string) (*ScanResult, error) {
	intent := models.IntentNone
	released := false
	switch {
	case held.Status == models.LockerReserved:
		// A previous open never completed; retry it.
		intent = models.IntentOwn
	case held.Status == models.LockerOwned && !held.IsVip:
		intent = models.IntentRelease
		released = true
	}

	cmd := &models.Command{
		CommandID: uuid.NewString(),
		KioskID:   held.KioskID,
		Type:      models.CommandOpenLocker,
		Payload: models.CommandPayload{
			LockerID:  held.LockerID,
			OwnerKey:  card,
			OnSuccess: intent,
		},
	}
	if _, err := m.queue.Enqueue(ctx, cmd); err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "opening existing locker", "kiosk_id", held.KioskID,
		"locker_id", held.LockerID, "command_id", cmd.CommandID, "release", released)

	return &ScanResult{
		ExistingOpen: true,
		LockerID:     held.LockerID,
		CommandID:    cmd.CommandID,
		Released:     released,
	}, nil
}

// SelectResult is the outcome of a locker selection.
type SelectResult struct {
	LockerID  int
	CommandID string
}

// Select reserves the chosen locker and enqueues its open command. Only the
// first successful selection completes the session; any later call against
// a completed, expired or unknown session fails with ErrSessionInvalid.
// A reservation failure (conflict, stale candidate) leaves the session
// active so the user can pick another candidate within the window.
func (m *Manager) Select(ctx context.Context, sessionID string, lockerID int) (*SelectResult, error) {
	m.mu.Lock()
	session, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %s: %w", sessionID, common.ErrSessionInvalid)
	}

	lock := m.kioskLock(session.KioskID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if session.Status != models.SessionActive {
		status := session.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, status, common.ErrSessionInvalid)
	}
	if session.Expired(m.now()) {
		session.Status = models.SessionExpired
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s expired: %w", sessionID, common.ErrSessionInvalid)
	}
	m.mu.Unlock()
	if !contains(session.CandidateLockers, lockerID) {
		return nil, fmt.Errorf("locker %d was not offered: %w", lockerID, common.ErrSessionInvalid)
	}

	locker, err := m.machine.Get(ctx, session.KioskID, lockerID)
	if err != nil {
		return nil, err
	}
	if _, err := m.machine.Reserve(ctx, session.KioskID, lockerID, session.CardOrToken, locker.Version); err != nil {
		return nil, err
	}

	cmd := &models.Command{
		CommandID: uuid.NewString(),
		KioskID:   session.KioskID,
		Type:      models.CommandOpenLocker,
		Payload: models.CommandPayload{
			LockerID:  lockerID,
			OwnerKey:  session.CardOrToken,
			OnSuccess: models.IntentOwn,
		},
	}
	if _, err := m.queue.Enqueue(ctx, cmd); err != nil {
		return nil, err
	}

	// The sweep may have expired the session while the reservation was in
	// flight; completion wins, the locker is already reserved.
	m.mu.Lock()
	session.Status = models.SessionCompleted
	m.mu.Unlock()
	m.logger.Info(ctx, "session completed", "session_id", sessionID,
		"locker_id", lockerID, "command_id", cmd.CommandID)

	return &SelectResult{LockerID: lockerID, CommandID: cmd.CommandID}, nil
}

// Get returns a session snapshot for UI countdowns.
func (m *Manager) Get(sessionID string) (*models.AccessSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s: %w", sessionID, common.ErrSessionInvalid)
	}
	snapshot := *session
	return &snapshot, nil
}

// cancelActiveLocked cancels the current active session for a kiosk. The
// caller must hold the kiosk lock. Cancellation is synchronous with the
// creation of the superseding session: no two sessions are ever active for
// one kiosk.
func (m *Manager) cancelActiveLocked(kioskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byKiosk[kioskID]; ok && prev.Status == models.SessionActive {
		prev.Status = models.SessionCancelled
	}
}

// Run expires overdue sessions and garbage-collects terminal ones on a
// ticker until the context is cancelled. Any reservation an expired session
// made is returned to Free by the state machine's reservation sweep, not
// here.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.byID {
		if session.Status == models.SessionActive && session.Expired(now) {
			session.Status = models.SessionExpired
			m.logger.Info(ctx, "session expired", "session_id", id, "kiosk_id", session.KioskID)
		}
		if session.Status != models.SessionActive && now.Sub(session.ExpiresAt) > m.opts.Retention {
			delete(m.byID, id)
			if m.byKiosk[session.KioskID] == session {
				delete(m.byKiosk, session.KioskID)
			}
		}
	}
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
