// Package protocol defines the JSON bodies of the kiosk polling protocol
// and the session/staff APIs. Both the coordinator handlers and the kiosk
// agent import these types so the wire format has a single definition.
package protocol

import (
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
)

// HeartbeatRequest is posted by a kiosk on every poll. Delivery state lives
// entirely on the coordinator: the guarded claim prevents double handout and
// the reclaimer redelivers commands whose result never arrived.
type HeartbeatRequest struct {
	ReportedVersion string `json:"reported_version"`
}

// CommandEnvelope is one dispatched command in a heartbeat response.
type CommandEnvelope struct {
	CommandID string                `json:"command_id"`
	Type      models.CommandType    `json:"type"`
	Payload   models.CommandPayload `json:"payload"`
}

// HeartbeatResponse carries zero or more pending commands for the kiosk.
type HeartbeatResponse struct {
	Commands []CommandEnvelope `json:"commands"`
}

// ResultRequest reports one command outcome, keyed by command id in the URL.
type ResultRequest struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// ScanRequest is a card or QR scan at a kiosk.
type ScanRequest struct {
	KioskID string `json:"kiosk_id"`
	Card    string `json:"card"`
}

// ScanResponse is either an existing-open resolution or a candidate list.
type ScanResponse struct {
	ExistingOpen bool   `json:"existing_open"`
	LockerID     int    `json:"locker_id,omitempty"`
	CommandID    string `json:"command_id,omitempty"`
	Released     bool   `json:"released,omitempty"`

	SessionID        string `json:"session_id,omitempty"`
	CandidateLockers []int  `json:"candidate_lockers,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

// SelectRequest picks one candidate locker for a session.
type SelectRequest struct {
	LockerID int `json:"locker_id"`
}

// SelectResponse acknowledges a completed selection.
type SelectResponse struct {
	LockerID  int    `json:"locker_id"`
	CommandID string `json:"command_id"`
}

// SessionResponse is a session snapshot for UI countdowns.
type SessionResponse struct {
	SessionID        string    `json:"session_id"`
	KioskID          string    `json:"kiosk_id"`
	Status           string    `json:"status"`
	CandidateLockers []int     `json:"candidate_lockers"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int       `json:"expires_in_seconds"`
}

// StaffCommandRequest enqueues a single command. CommandID is chosen by the
// caller so a retried submission stays idempotent.
type StaffCommandRequest struct {
	CommandID string             `json:"command_id,omitempty"`
	KioskID   string             `json:"kiosk_id"`
	Type      models.CommandType `json:"type"`
	LockerID  int                `json:"locker_id"`
}

// StaffCommandResponse reports the stored command and kiosk reachability.
type StaffCommandResponse struct {
	CommandID   string `json:"command_id"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	KioskStatus string `json:"kiosk_status"`
}

// BulkOpenRequest expands into one command per target locker. An empty
// locker list targets every locker on the kiosk.
type BulkOpenRequest struct {
	KioskID    string `json:"kiosk_id"`
	LockerIDs  []int  `json:"locker_ids,omitempty"`
	ExcludeVip *bool  `json:"exclude_vip,omitempty"` // default true
	Override   bool   `json:"override,omitempty"`
}

// LockerResponse is the staff-facing view of one locker.
type LockerResponse struct {
	KioskID     string     `json:"kiosk_id"`
	LockerID    int        `json:"locker_id"`
	Status      string     `json:"status"`
	IsVip       bool       `json:"is_vip"`
	OwnerKey    string     `json:"owner_key,omitempty"`
	Version     int64      `json:"version"`
	ReservedAt  *time.Time `json:"reserved_at,omitempty"`
	OwnedAt     *time.Time `json:"owned_at,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
