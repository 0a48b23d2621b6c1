package models

import "time"

// SessionStatus enumerates the access-session lifecycle states.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
	SessionCancelled SessionStatus = "cancelled"
)

// AccessSession is one user's pending locker choice at a kiosk.
//
// At most one session per kiosk is active at any time; a newer scan cancels
// the previous session before the replacement is created. Sessions live in
// memory only: after a coordinator restart they are reconstructed from
// scratch and any reservation they held is returned to the pool by the
// reservation sweep.
type AccessSession struct {
	SessionID        string
	KioskID          string
	CardOrToken      string
	Status           SessionStatus
	CandidateLockers []int
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the session deadline has passed at the given instant.
func (s *AccessSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
