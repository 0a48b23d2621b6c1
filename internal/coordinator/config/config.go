// Package config handles configuration for the coordinator component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// KioskSpec declares the lockers provisioned for one kiosk. Lockers are
// numbered 1..LockerCount matching the relay channel mapping on the kiosk.
type KioskSpec struct {
	KioskID     string
	LockerCount int
	VipLockers  []int
}

// Config holds runtime settings for the KiosKeeper coordinator.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the HTTP API.
//   - DatabaseDSN: sqlite DSN for the embedded store.
//   - KioskSecretKey: HMAC secret shared with kiosks for polling auth.
//   - StaffToken: static token guarding the staff API.
//   - Kiosks: fleet provisioning (lockers created on startup).
//   - ReservationTTL: age after which a Reserved locker is swept to Free.
//   - SessionTTL / SessionCandidates: access-session lifetime and offer size.
//   - LivenessThreshold: heartbeat age beyond which a kiosk is unreachable.
//   - CommandMaxAttempts / CommandBackoffBase / CommandBackoffMax: retry policy.
//   - CommandDispatchTimeout: age after which an unacknowledged dispatched
//     command is reclaimed for redelivery.
//   - CommandRetention: audit window for terminal commands.
//   - SweepInterval / JanitorInterval: background cadence.
type Config struct {
	EndpointAddrHTTP       string
	DatabaseDSN            string
	KioskSecretKey         string
	StaffToken             string
	Kiosks                 []KioskSpec
	ReservationTTL         time.Duration
	SessionTTL             time.Duration
	SessionCandidates      int
	LivenessThreshold      time.Duration
	CommandMaxAttempts     int
	CommandBackoffBase     time.Duration
	CommandBackoffMax      time.Duration
	CommandDispatchTimeout time.Duration
	CommandRetention       time.Duration
	SweepInterval          time.Duration
	JanitorInterval        time.Duration
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: The secrets are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = "file:kioskeeper.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	c.KioskSecretKey = "secretKey"
	c.StaffToken = "staffToken"
	c.ReservationTTL = 90 * time.Second
	c.SessionTTL = 30 * time.Second
	c.SessionCandidates = 3
	c.LivenessThreshold = 30 * time.Second
	c.CommandMaxAttempts = 3
	c.CommandBackoffBase = 2 * time.Second
	c.CommandBackoffMax = time.Minute
	c.CommandDispatchTimeout = 30 * time.Second
	c.CommandRetention = 7 * 24 * time.Hour
	c.SweepInterval = 5 * time.Second
	c.JanitorInterval = time.Hour
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
