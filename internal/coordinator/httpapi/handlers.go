package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/dispatch"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/protocol"
)

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	kioskID := r.PathValue("kioskID")

	var req protocol.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	cmds, err := s.dispatch.Heartbeat(r.Context(), kioskID, req.ReportedVersion)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	resp := protocol.HeartbeatResponse{Commands: make([]protocol.CommandEnvelope, 0, len(cmds))}
	for _, c := range cmds {
		resp.Commands = append(resp.Commands, protocol.CommandEnvelope{
			CommandID: c.CommandID,
			Type:      c.Type,
			Payload:   c.Payload,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	commandID := r.PathValue("commandID")

	var req protocol.ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.dispatch.Report(r.Context(), commandID, req.Success, req.Detail); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req protocol.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.KioskID == "" || req.Card == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("kiosk_id and card are required"))
		return
	}

	result, err := s.sessions.Scan(r.Context(), req.KioskID, req.Card)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, protocol.ScanResponse{
		ExistingOpen:     result.ExistingOpen,
		LockerID:         result.LockerID,
		CommandID:        result.CommandID,
		Released:         result.Released,
		SessionID:        result.SessionID,
		CandidateLockers: result.CandidateLockers,
		ExpiresInSeconds: int(result.ExpiresIn.Seconds()),
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	var req protocol.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := s.sessions.Select(r.Context(), sessionID, req.LockerID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, protocol.SelectResponse{
		LockerID:  result.LockerID,
		CommandID: result.CommandID,
	})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.PathValue("sessionID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	remaining := int(time.Until(session.ExpiresAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	s.writeJSON(w, http.StatusOK, protocol.SessionResponse{
		SessionID:        session.SessionID,
		KioskID:          session.KioskID,
		Status:           string(session.Status),
		CandidateLockers: session.CandidateLockers,
		ExpiresAt:        session.ExpiresAt,
		ExpiresInSeconds: remaining,
	})
}

func (s *Server) handleStaffCommand(w http.ResponseWriter, r *http.Request) {
	var req protocol.StaffCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	switch req.Type {
	case models.CommandOpenLocker, models.CommandBlock, models.CommandUnblock:
	default:
		s.writeError(w, r, http.StatusBadRequest, errors.New("unsupported command type"))
		return
	}

	cmd := &models.Command{
		CommandID: req.CommandID,
		KioskID:   req.KioskID,
		Type:      req.Type,
		Payload:   models.CommandPayload{LockerID: req.LockerID, OnSuccess: models.IntentNone},
	}
	stored, err := s.dispatch.Enqueue(r.Context(), cmd)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	online, err := s.dispatch.KioskOnline(r.Context(), req.KioskID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	kioskStatus := "online"
	if !online {
		kioskStatus = "unreachable"
	}

	s.writeJSON(w, http.StatusAccepted, protocol.StaffCommandResponse{
		CommandID:   stored.CommandID,
		Status:      string(stored.Status),
		Result:      stored.Result,
		KioskStatus: kioskStatus,
	})
}

func (s *Server) handleBulkOpen(w http.ResponseWriter, r *http.Request) {
	var req protocol.BulkOpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	opts := dispatch.BulkOpenOptions{ExcludeVip: true, Override: req.Override}
	if req.ExcludeVip != nil {
		opts.ExcludeVip = *req.ExcludeVip
	}

	report, err := s.dispatch.BulkOpen(r.Context(), req.KioskID, req.LockerIDs, opts)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, report)
}

func (s *Server) handleStaffRelease(w http.ResponseWriter, r *http.Request) {
	kioskID := r.PathValue("kioskID")
	lockerID, err := strconv.Atoi(r.PathValue("lockerID"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid locker id"))
		return
	}

	// Explicit staff release: the only path that frees a VIP locker.
	if err := s.machine.Release(r.Context(), kioskID, lockerID, "", true); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKiosks(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.dispatch.KioskStatuses(r.Context())
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleLockers(w http.ResponseWriter, r *http.Request) {
	lockersList, err := s.machine.ListByKiosk(r.Context(), r.PathValue("kioskID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	resp := make([]protocol.LockerResponse, 0, len(lockersList))
	for _, l := range lockersList {
		resp = append(resp, protocol.LockerResponse{
			KioskID:     l.KioskID,
			LockerID:    l.LockerID,
			Status:      string(l.Status),
			IsVip:       l.IsVip,
			OwnerKey:    l.OwnerKey,
			Version:     l.Version,
			ReservedAt:  l.ReservedAt,
			OwnedAt:     l.OwnedAt,
			DisplayName: l.DisplayName,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.dispatch.BatchStatus(r.Context(), r.PathValue("batchID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, protocol.ErrorResponse{Error: err.Error()})
}

// writeMappedError translates the shared error taxonomy into HTTP statuses.
func (s *Server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, common.ErrConflict):
		s.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, common.ErrInvalidState):
		s.writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, common.ErrSessionInvalid):
		s.writeError(w, r, http.StatusGone, err)
	case errors.Is(err, common.ErrVipProtected):
		s.writeError(w, r, http.StatusForbidden, err)
	case errors.Is(err, common.ErrKioskUnreachable):
		s.writeError(w, r, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err)
	}
}
