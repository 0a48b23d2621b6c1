package models

import "time"

// CommandType enumerates the instructions a kiosk can execute. Bulk
// operations are an API surface, not a wire type: they expand into one
// open_locker command per target locker before anything is queued.
type CommandType string

const (
	CommandOpenLocker CommandType = "open_locker"
	CommandBlock      CommandType = "block"
	CommandUnblock    CommandType = "unblock"
)

// CommandStatus enumerates the command lifecycle states.
type CommandStatus string

const (
	CommandPending    CommandStatus = "pending"
	CommandDispatched CommandStatus = "dispatched"
	CommandExecuting  CommandStatus = "executing"
	CommandCompleted  CommandStatus = "completed"
	CommandFailed     CommandStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// OutcomeIntent tells the coordinator which state transition to apply when
// a physical open succeeds.
type OutcomeIntent string

const (
	// IntentOwn confirms a pending reservation (Reserved -> Owned).
	IntentOwn OutcomeIntent = "own"
	// IntentRelease releases the locker after opening (Owned -> Free).
	IntentRelease OutcomeIntent = "release"
	// IntentNone applies no locker transition (VIP re-open, maintenance).
	IntentNone OutcomeIntent = "none"
)

// CommandPayload is the JSON body stored on a command row and delivered to
// the kiosk verbatim.
type CommandPayload struct {
	LockerID  int           `json:"locker_id"`
	OwnerKey  string        `json:"owner_key,omitempty"`
	OnSuccess OutcomeIntent `json:"on_success,omitempty"`
}

// Command is one queued instruction for a specific kiosk.
//
// CommandID is producer-generated, so duplicate delivery of the same
// command is detectable; once a terminal status is recorded, re-submission
// is a no-op that returns the stored result. NextAttemptAt gates retry
// delivery: a failed command re-enqueued with backoff is not handed out
// before that instant.
type Command struct {
	CommandID     string
	KioskID       string
	Type          CommandType
	Payload       CommandPayload
	Status        CommandStatus
	Attempts      int
	BatchID       string
	Result        string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	NextAttemptAt *time.Time
}
