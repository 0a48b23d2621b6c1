package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":       "www.example:9000",
		"database_dsn":             "file:fleet.db",
		"kiosk_secret_key":         "my_secret_key",
		"staff_token":              "my_staff_token",
		"reservation_ttl":          "2m",
		"session_ttl":              "45s",
		"session_candidates":       5,
		"liveness_threshold":       "20s",
		"command_max_attempts":     4,
		"command_backoff_base":     "1s",
		"command_backoff_max":      "30s",
		"command_dispatch_timeout": "45s",
		"command_retention":        "48h",
		"sweep_interval":           "10s",
		"janitor_interval":         "2h",
		"kiosks": []map[string]any{
			{"kiosk_id": "k1", "locker_count": 24, "vip_lockers": []int{23, 24}},
			{"kiosk_id": "k2", "locker_count": 16},
		},
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "file:fleet.db", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.KioskSecretKey)
		assert.Equal(t, "my_staff_token", cfg.StaffToken)
		assert.Equal(t, 2*time.Minute, cfg.ReservationTTL)
		assert.Equal(t, 45*time.Second, cfg.SessionTTL)
		assert.Equal(t, 5, cfg.SessionCandidates)
		assert.Equal(t, 20*time.Second, cfg.LivenessThreshold)
		assert.Equal(t, 4, cfg.CommandMaxAttempts)
		assert.Equal(t, time.Second, cfg.CommandBackoffBase)
		assert.Equal(t, 30*time.Second, cfg.CommandBackoffMax)
		assert.Equal(t, 45*time.Second, cfg.CommandDispatchTimeout)
		assert.Equal(t, 48*time.Hour, cfg.CommandRetention)
		assert.Equal(t, 10*time.Second, cfg.SweepInterval)
		assert.Equal(t, 2*time.Hour, cfg.JanitorInterval)

		require.Len(t, cfg.Kiosks, 2)
		assert.Equal(t, "k1", cfg.Kiosks[0].KioskID)
		assert.Equal(t, 24, cfg.Kiosks[0].LockerCount)
		assert.Equal(t, []int{23, 24}, cfg.Kiosks[0].VipLockers)
		assert.Equal(t, "k2", cfg.Kiosks[1].KioskID)
		assert.Empty(t, cfg.Kiosks[1].VipLockers)
	})

	t.Run("no CONFIG and no flags means no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddrHTTP: "defaults:1234",
			DatabaseDSN:      "file:default.db",
			KioskSecretKey:   "key",
			StaffToken:       "token",
			ReservationTTL:   90 * time.Second,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, "file:default.db", cfg.DatabaseDSN)
		assert.Equal(t, 90*time.Second, cfg.ReservationTTL)
		assert.Empty(t, cfg.Kiosks)
	})

	t.Run("partial json keeps other values", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{
			"session_ttl": "1m",
		})
		os.Args = []string{"testbin", "-c", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, time.Minute, cfg.SessionTTL)
		assert.Equal(t, ":8080", cfg.EndpointAddrHTTP)
		assert.Equal(t, 90*time.Second, cfg.ReservationTTL)
	})
}
