// Package config handles configuration for the kiosk agent, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// CardSpec describes one relay card on the kiosk's RS-485 bus.
type CardSpec struct {
	Address  byte
	Channels int
}

// Config holds runtime settings for the kiosk agent.
//
// Fields:
//   - CoordinatorURL: base URL of the coordinator HTTP API.
//   - KioskID: this kiosk's fleet identity.
//   - SecretKey: HMAC secret for signing polling-protocol tokens.
//   - HeartbeatInterval: poll cadence against the coordinator.
//   - SerialDevice / BaudRate / ReadTimeout: RS-485 port settings.
//   - Cards: relay cards in locker-numbering order.
//   - Pulse / Retries / RetryDelay / Spacing / CardAutoReset: bus timing.
//   - ResetBus: perform an emergency close-all and exit (staff recovery).
type Config struct {
	CoordinatorURL    string
	KioskID           string
	SecretKey         string
	HeartbeatInterval time.Duration
	SerialDevice      string
	BaudRate          int
	ReadTimeout       time.Duration
	Cards             []CardSpec
	Pulse             time.Duration
	Retries           int
	RetryDelay        time.Duration
	Spacing           time.Duration
	CardAutoReset     bool
	ResetBus          bool
}

// LoadDefaults populates Config with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.CoordinatorURL = "http://127.0.0.1:8080"
	c.KioskID = "kiosk-1"
	c.SecretKey = "secretKey"
	c.HeartbeatInterval = 3 * time.Second
	c.SerialDevice = "/dev/ttyUSB0"
	c.BaudRate = 9600
	c.ReadTimeout = time.Second
	c.Cards = []CardSpec{{Address: 1, Channels: 16}}
	c.Pulse = 400 * time.Millisecond
	c.Retries = 2
	c.RetryDelay = 100 * time.Millisecond
	c.Spacing = 50 * time.Millisecond
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
