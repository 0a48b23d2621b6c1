package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/flagx"
	"github.com/dmitrijs2005/kioskeeper/internal/timex"
)

// JsonCardSpec mirrors CardSpec for JSON unmarshalling.
type JsonCardSpec struct {
	Address  byte `json:"address"`
	Channels int  `json:"channels"`
}

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling; its fields are copied into the runtime Config.
type JsonConfig struct {
	CoordinatorURL    string         `json:"coordinator_url"`
	KioskID           string         `json:"kiosk_id"`
	SecretKey         string         `json:"secret_key"`
	HeartbeatInterval timex.Duration `json:"heartbeat_interval"`
	SerialDevice      string         `json:"serial_device"`
	BaudRate          int            `json:"baud_rate"`
	ReadTimeout       timex.Duration `json:"read_timeout"`
	Cards             []JsonCardSpec `json:"cards"`
	Pulse             timex.Duration `json:"pulse"`
	Retries           int            `json:"retries"`
	RetryDelay        timex.Duration `json:"retry_delay"`
	Spacing           timex.Duration `json:"spacing"`
	CardAutoReset     bool           `json:"card_auto_reset"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.CoordinatorURL != "" {
		config.CoordinatorURL = c.CoordinatorURL
	}
	if c.KioskID != "" {
		config.KioskID = c.KioskID
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.HeartbeatInterval.Duration != 0 {
		config.HeartbeatInterval = time.Duration(c.HeartbeatInterval.Duration)
	}
	if c.SerialDevice != "" {
		config.SerialDevice = c.SerialDevice
	}
	if c.BaudRate != 0 {
		config.BaudRate = c.BaudRate
	}
	if c.ReadTimeout.Duration != 0 {
		config.ReadTimeout = time.Duration(c.ReadTimeout.Duration)
	}
	if len(c.Cards) > 0 {
		config.Cards = nil
		for _, card := range c.Cards {
			config.Cards = append(config.Cards, CardSpec{Address: card.Address, Channels: card.Channels})
		}
	}
	if c.Pulse.Duration != 0 {
		config.Pulse = time.Duration(c.Pulse.Duration)
	}
	if c.Retries != 0 {
		config.Retries = c.Retries
	}
	if c.RetryDelay.Duration != 0 {
		config.RetryDelay = time.Duration(c.RetryDelay.Duration)
	}
	if c.Spacing.Duration != 0 {
		config.Spacing = time.Duration(c.Spacing.Duration)
	}
	if c.CardAutoReset {
		config.CardAutoReset = true
	}
}
