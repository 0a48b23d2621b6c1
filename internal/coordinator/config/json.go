package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/flagx"
	"github.com/dmitrijs2005/kioskeeper/internal/timex"
)

// JsonKioskSpec mirrors KioskSpec for JSON unmarshalling.
type JsonKioskSpec struct {
	KioskID     string `json:"kiosk_id"`
	LockerCount int    `json:"locker_count"`
	VipLockers  []int  `json:"vip_lockers"`
}

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "90s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files; after unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP       string          `json:"endpoint_addr_http"`
	DatabaseDSN            string          `json:"database_dsn"`
	KioskSecretKey         string          `json:"kiosk_secret_key"`
	StaffToken             string          `json:"staff_token"`
	Kiosks                 []JsonKioskSpec `json:"kiosks"`
	ReservationTTL         timex.Duration  `json:"reservation_ttl"`
	SessionTTL             timex.Duration  `json:"session_ttl"`
	SessionCandidates      int             `json:"session_candidates"`
	LivenessThreshold      timex.Duration  `json:"liveness_threshold"`
	CommandMaxAttempts     int             `json:"command_max_attempts"`
	CommandBackoffBase     timex.Duration  `json:"command_backoff_base"`
	CommandBackoffMax      timex.Duration  `json:"command_backoff_max"`
	CommandDispatchTimeout timex.Duration  `json:"command_dispatch_timeout"`
	CommandRetention       timex.Duration  `json:"command_retention"`
	SweepInterval          timex.Duration  `json:"sweep_interval"`
	JanitorInterval        timex.Duration  `json:"janitor_interval"`
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

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.KioskSecretKey != "" {
		config.KioskSecretKey = c.KioskSecretKey
	}
	if c.StaffToken != "" {
		config.StaffToken = c.StaffToken
	}
	for _, k := range c.Kiosks {
		config.Kiosks = append(config.Kiosks, KioskSpec{
			KioskID:     k.KioskID,
			LockerCount: k.LockerCount,
			VipLockers:  k.VipLockers,
		})
	}
	if c.ReservationTTL.Duration != 0 {
		config.ReservationTTL = time.Duration(c.ReservationTTL.Duration)
	}
	if c.SessionTTL.Duration != 0 {
		config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	}
	if c.SessionCandidates != 0 {
		config.SessionCandidates = c.SessionCandidates
	}
	if c.LivenessThreshold.Duration != 0 {
		config.LivenessThreshold = time.Duration(c.LivenessThreshold.Duration)
	}
	if c.CommandMaxAttempts != 0 {
		config.CommandMaxAttempts = c.CommandMaxAttempts
	}
	if c.CommandBackoffBase.Duration != 0 {
		config.CommandBackoffBase = time.Duration(c.CommandBackoffBase.Duration)
	}
	if c.CommandBackoffMax.Duration != 0 {
		config.CommandBackoffMax = time.Duration(c.CommandBackoffMax.Duration)
	}
	if c.CommandDispatchTimeout.Duration != 0 {
		config.CommandDispatchTimeout = time.Duration(c.CommandDispatchTimeout.Duration)
	}
	if c.CommandRetention.Duration != 0 {
		config.CommandRetention = time.Duration(c.CommandRetention.Duration)
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = time.Duration(c.SweepInterval.Duration)
	}
	if c.JanitorInterval.Duration != 0 {
		config.JanitorInterval = time.Duration(c.JanitorInterval.Duration)
	}
}
