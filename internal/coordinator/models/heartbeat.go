package models

import "time"

// KioskHeartbeat is the liveness record for one kiosk, refreshed on every
// poll. ReportedVersion is the agent build reported by the kiosk, kept for
// fleet upgrade visibility.
type KioskHeartbeat struct {
	KioskID         string
	LastSeenAt      time.Time
	ReportedVersion string
}

// Online reports whether the kiosk heartbeat is fresh within the threshold.
func (h *KioskHeartbeat) Online(now time.Time, threshold time.Duration) bool {
	return now.Sub(h.LastSeenAt) <= threshold
}
