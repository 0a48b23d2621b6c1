// Package httpapi exposes the coordinator over HTTP/JSON: the kiosk polling
// protocol, the session API consumed by kiosk-local UIs, and the staff API
// consumed by the admin panel.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/dispatch"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/sessions"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/statemachine"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
)

// Server is the coordinator HTTP front end.
type Server struct {
	address     string
	machine     *statemachine.Service
	sessions    *sessions.Manager
	dispatch    *dispatch.Service
	kioskSecret []byte
	staffToken  string
	logger      logging.Logger
}

// NewServer wires the HTTP surface to the coordinator services. kioskSecret
// verifies the HS256 tokens kiosks sign; staffToken guards the staff API.
func NewServer(address string, machine *statemachine.Service, sm *sessions.Manager, d *dispatch.Service,
	kioskSecret string, staffToken string, l logging.Logger) *Server {
	return &Server{
		address:     address,
		machine:     machine,
		sessions:    sm,
		dispatch:    d,
		kioskSecret: []byte(kioskSecret),
		staffToken:  staffToken,
		logger:      l.With("module", "httpapi"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Kiosk polling protocol.
	mux.Handle("POST /v1/kiosks/{kioskID}/heartbeat", s.kioskAuth(http.HandlerFunc(s.handleHeartbeat)))
	mux.Handle("POST /v1/commands/{commandID}/result", s.kioskAuth(http.HandlerFunc(s.handleResult)))

	// Session API (kiosk-local UI).
	mux.HandleFunc("POST /v1/scan", s.handleScan)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/select", s.handleSelect)
	mux.HandleFunc("GET /v1/sessions/{sessionID}", s.handleSessionGet)

	// Staff API (admin panel).
	mux.Handle("POST /v1/staff/commands", s.staffAuth(http.HandlerFunc(s.handleStaffCommand)))
	mux.Handle("POST /v1/staff/bulk-open", s.staffAuth(http.HandlerFunc(s.handleBulkOpen)))
	mux.Handle("POST /v1/staff/lockers/{kioskID}/{lockerID}/release", s.staffAuth(http.HandlerFunc(s.handleStaffRelease)))
	mux.Handle("GET /v1/staff/kiosks", s.staffAuth(http.HandlerFunc(s.handleKiosks)))
	mux.Handle("GET /v1/staff/lockers/{kioskID}", s.staffAuth(http.HandlerFunc(s.handleLockers)))
	mux.Handle("GET /v1/staff/batches/{batchID}", s.staffAuth(http.HandlerFunc(s.handleBatch)))

	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
