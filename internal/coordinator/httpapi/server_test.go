package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/dispatch"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/repomanager"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/sessions"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/statemachine"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
	"github.com/dmitrijs2005/kioskeeper/internal/protocol"

	_ "modernc.org/sqlite"
)

const (
	kioskSecret = "kiosk-secret"
	staffToken  = "staff-token"
)

// newTestStack wires the full coordinator over an in-memory store and
// returns the HTTP test server. Kiosk k1 has lockers 1..3, locker 3 is VIP.
func newTestStack(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One in-memory database per test, not per pooled connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	rm, err := repomanager.NewSQLiteRepositoryManager()
	require.NoError(t, err)
	require.NoError(t, rm.RunMigrations(ctx, db))

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	machine := statemachine.NewService(db, rm, 90*time.Second, logger)
	require.NoError(t, machine.Provision(ctx, "k1", []statemachine.LockerSpec{
		{LockerID: 1}, {LockerID: 2}, {LockerID: 3, IsVip: true},
	}))

	d := dispatch.NewService(db, rm, machine, dispatch.Options{}, logger)
	sm := sessions.NewManager(machine, d, sessions.Options{}, logger)

	server := NewServer(":0", machine, sm, d, kioskSecret, staffToken, logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func signKioskToken(t *testing.T, kioskID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   kioskID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(kioskSecret))
	require.NoError(t, err)
	return signed
}

// doJSON sends a request and decodes the JSON response into out when out is
// non-nil. headers come in key/value pairs.
func doJSON(t *testing.T, method, url string, in, out any, headers ...string) *http.Response {
	t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func kioskHeaders(t *testing.T, kioskID string) []string {
	return []string{common.KioskTokenHeaderName, "Bearer " + signKioskToken(t, kioskID)}
}

func staffHeaders() []string {
	return []string{common.StaffTokenHeaderName, staffToken}
}

func TestHeartbeat_RequiresToken(t *testing.T) {
	ts := newTestStack(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/kiosks/k1/heartbeat", protocol.HeartbeatRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHeartbeat_SubjectMustMatchKiosk(t *testing.T) {
	ts := newTestStack(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/kiosks/k1/heartbeat",
		protocol.HeartbeatRequest{}, nil, kioskHeaders(t, "k2")...)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStaffAPI_RequiresToken(t *testing.T) {
	ts := newTestStack(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/staff/kiosks", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestScanSelectOpenOwn_FullFlow(t *testing.T) {
	ts := newTestStack(t)

	// Scan: new card gets a candidate list.
	var scan protocol.ScanResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/scan",
		protocol.ScanRequest{KioskID: "k1", Card: "card-1"}, &scan)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, scan.ExistingOpen)
	require.NotEmpty(t, scan.SessionID)
	assert.Equal(t, []int{1, 2, 3}, scan.CandidateLockers)
	assert.Greater(t, scan.ExpiresInSeconds, 0)

	// Select: locker 2 is reserved and an open command is queued.
	var sel protocol.SelectResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+scan.SessionID+"/select",
		protocol.SelectRequest{LockerID: 2}, &sel)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, sel.CommandID)

	// A second selection against the completed session is rejected.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+scan.SessionID+"/select",
		protocol.SelectRequest{LockerID: 1}, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// Kiosk polls and receives the open command.
	var hb protocol.HeartbeatResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/kiosks/k1/heartbeat",
		protocol.HeartbeatRequest{ReportedVersion: "v1"}, &hb, kioskHeaders(t, "k1")...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, hb.Commands, 1)
	assert.Equal(t, sel.CommandID, hb.Commands[0].CommandID)
	assert.Equal(t, 2, hb.Commands[0].Payload.LockerID)

	// The kiosk reports success: the reservation becomes ownership.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/commands/"+sel.CommandID+"/result",
		protocol.ResultRequest{Success: true}, nil, kioskHeaders(t, "k1")...)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var lockersList []protocol.LockerResponse
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/staff/lockers/k1", nil, &lockersList, staffHeaders()...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, lockersList, 3)
	assert.Equal(t, "owned", lockersList[1].Status)
	assert.Equal(t, "card-1", lockersList[1].OwnerKey)
}

func TestScan_ExistingOwnerOpensAndReleases(t *testing.T) {
	ts := newTestStack(t)

	// Take locker 1 through the normal flow.
	var scan protocol.ScanResponse
	doJSON(t, http.MethodPost, ts.URL+"/v1/scan",
		protocol.ScanRequest{KioskID: "k1", Card: "card-1"}, &scan)
	var sel protocol.SelectResponse
	doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+scan.SessionID+"/select",
		protocol.SelectRequest{LockerID: 1}, &sel)
	doJSON(t, http.MethodPost, ts.URL+"/v1/kiosks/k1/heartbeat",
		protocol.HeartbeatRequest{}, &protocol.HeartbeatResponse{}, kioskHeaders(t, "k1")...)
	doJSON(t, http.MethodPost, ts.URL+"/v1/commands/"+sel.CommandID+"/result",
		protocol.ResultRequest{Success: true}, nil, kioskHeaders(t, "k1")...)

	// Scanning the same card again opens the held locker for pickup.
	var again protocol.ScanResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/scan",
		protocol.ScanRequest{KioskID: "k1", Card: "card-1"}, &again)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, again.ExistingOpen)
	assert.True(t, again.Released)
	assert.Equal(t, 1, again.LockerID)
}

func TestBulkOpen_SkipsVipByDefault(t *testing.T) {
	ts := newTestStack(t)

	var report dispatch.BulkReport
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/staff/bulk-open",
		protocol.BulkOpenRequest{KioskID: "k1"}, &report, staffHeaders()...)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, report.Items, 3)

	byLocker := make(map[int]dispatch.BulkItem)
	for _, item := range report.Items {
		byLocker[item.LockerID] = item
	}
	assert.False(t, byLocker[1].Skipped)
	assert.False(t, byLocker[2].Skipped)
	assert.True(t, byLocker[3].Skipped)
	assert.Equal(t, "vip", byLocker[3].Reason)

	// Batch status is queryable by staff.
	var cmds []models.Command
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/staff/batches/"+report.BatchID, nil, &cmds, staffHeaders()...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, cmds, 2)
}

func TestStaffCommand_ReportsUnreachableKiosk(t *testing.T) {
	ts := newTestStack(t)

	var result protocol.StaffCommandResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/staff/commands",
		protocol.StaffCommandRequest{KioskID: "k1", Type: models.CommandOpenLocker, LockerID: 1},
		&result, staffHeaders()...)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(models.CommandPending), result.Status)
	// No heartbeat yet: the command is queued but the kiosk is flagged.
	assert.Equal(t, "unreachable", result.KioskStatus)
}

func TestStaffRelease_FreesVipLocker(t *testing.T) {
	ts := newTestStack(t)

	// VIP takes locker 3.
	var scan protocol.ScanResponse
	doJSON(t, http.MethodPost, ts.URL+"/v1/scan",
		protocol.ScanRequest{KioskID: "k1", Card: "vip-1"}, &scan)
	var sel protocol.SelectResponse
	doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+scan.SessionID+"/select",
		protocol.SelectRequest{LockerID: 3}, &sel)
	doJSON(t, http.MethodPost, ts.URL+"/v1/kiosks/k1/heartbeat",
		protocol.HeartbeatRequest{}, &protocol.HeartbeatResponse{}, kioskHeaders(t, "k1")...)
	doJSON(t, http.MethodPost, ts.URL+"/v1/commands/"+sel.CommandID+"/result",
		protocol.ResultRequest{Success: true}, nil, kioskHeaders(t, "k1")...)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/staff/lockers/k1/3/release", nil, nil, staffHeaders()...)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var lockersList []protocol.LockerResponse
	doJSON(t, http.MethodGet, ts.URL+"/v1/staff/lockers/k1", nil, &lockersList, staffHeaders()...)
	require.Len(t, lockersList, 3)
	assert.Equal(t, "free", lockersList[2].Status)
	assert.Empty(t, lockersList[2].OwnerKey)
}

func TestSessionGet_ReturnsCountdown(t *testing.T) {
	ts := newTestStack(t)

	var scan protocol.ScanResponse
	doJSON(t, http.MethodPost, ts.URL+"/v1/scan",
		protocol.ScanRequest{KioskID: "k1", Card: "card-1"}, &scan)

	var session protocol.SessionResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/"+scan.SessionID, nil, &session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", session.Status)
	assert.Equal(t, "k1", session.KioskID)
	assert.Greater(t, session.ExpiresInSeconds, 0)
}

func TestScan_MissingFieldsRejected(t *testing.T) {
	ts := newTestStack(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/scan", protocol.ScanRequest{KioskID: "k1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
