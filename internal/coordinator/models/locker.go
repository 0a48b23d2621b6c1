// Package models defines the persistent records managed by the coordinator:
// lockers, queued commands, kiosk heartbeats, and in-memory access sessions.
package models

import "time"

// LockerStatus enumerates the locker lifecycle states.
type LockerStatus string

const (
	LockerFree     LockerStatus = "free"
	LockerReserved LockerStatus = "reserved"
	LockerOwned    LockerStatus = "owned"
	LockerBlocked  LockerStatus = "blocked"
)

// Locker is one physical locker, identified by (KioskID, LockerID).
//
// Version is the optimistic-lock token: every successful transition
// increments it, and every transition must present the version it last
// read. OwnerKey is the opaque card UID or VIP contract id; it is non-empty
// exactly when Status is reserved or owned.
type Locker struct {
	KioskID     string
	LockerID    int
	Status      LockerStatus
	IsVip       bool
	OwnerKey    string
	Version     int64
	ReservedAt  *time.Time
	OwnedAt     *time.Time
	DisplayName string
}

// HasOwner reports whether the locker currently carries an owner key.
func (l *Locker) HasOwner() bool {
	return l.OwnerKey != ""
}
