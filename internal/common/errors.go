// Package common defines shared constants and sentinel errors used across
// coordinator and kiosk layers of KiosKeeper. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// State machine errors.
	ErrInvalidState = errors.New("transition not legal from current status")
	ErrConflict     = errors.New("version conflict")

	// Session errors (expired, completed, or unknown session).
	ErrSessionInvalid = errors.New("session invalid")

	// Hardware errors.
	ErrHardwareTimeout = errors.New("hardware timeout")
	ErrHardwareNack    = errors.New("hardware nack")

	// Coordinator errors.
	ErrKioskUnreachable = errors.New("kiosk unreachable")
	ErrVipProtected     = errors.New("vip locker requires explicit override")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
