package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, c.EndpointAddrHTTP, ":8080")
	assert.Equal(t, c.DatabaseDSN, "file:kioskeeper.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	assert.Equal(t, c.KioskSecretKey, "secretKey")
	assert.Equal(t, c.StaffToken, "staffToken")
	assert.Equal(t, c.ReservationTTL, 90*time.Second)
	assert.Equal(t, c.SessionTTL, 30*time.Second)
	assert.Equal(t, c.SessionCandidates, 3)
	assert.Equal(t, c.LivenessThreshold, 30*time.Second)
	assert.Equal(t, c.CommandMaxAttempts, 3)
	assert.Equal(t, c.CommandBackoffBase, 2*time.Second)
	assert.Equal(t, c.CommandBackoffMax, time.Minute)
	assert.Equal(t, c.CommandDispatchTimeout, 30*time.Second)
	assert.Equal(t, c.CommandRetention, 7*24*time.Hour)
	assert.Equal(t, c.SweepInterval, 5*time.Second)
	assert.Equal(t, c.JanitorInterval, time.Hour)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")

	assert.Equal(t, c.EndpointAddrHTTP, ":8080")
	assert.Equal(t, c.KioskSecretKey, "secretKey")
	assert.Equal(t, c.ReservationTTL, 90*time.Second)
	assert.Empty(t, c.Kiosks)
}
