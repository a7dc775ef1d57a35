package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/medivault/medivault/pkg/gate"
	"github.com/medivault/medivault/pkg/metrics"
	"github.com/medivault/medivault/pkg/session"
	"github.com/medivault/medivault/pkg/vault"
)

const maxUploadBytes = 100 << 20 // 100 MiB

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /check", s.handleCheck)
	mux.HandleFunc("GET /files", s.handleFiles)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /download/{filename}", s.handleDownload)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/v1/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/v1/audit", s.handleAudit)
}

// GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"message": "Medi-Vault Backend is Running!"})
}

// GET /check
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "Quantum Server is Online",
		"qubits": s.keyBits,
	})
}

// GET /files
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing files failed")
		return
	}
	if records == nil {
		records = []vault.FileRecord{}
	}
	writeJSON(w, records)
}

// POST /upload
// Multipart form with a single "file" part. The gate is re-checked here
// regardless of what the client already evaluated.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	decision, snap := s.checkGate(gate.OpUpload, "")
	if !decision.Allowed {
		s.writeGateDenial(w, decision)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file part: %v", err))
		return
	}
	defer file.Close()

	rec, err := s.store.Store(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storing file failed")
		return
	}

	s.recordAudit(gate.OpUpload, header.Filename, snap, decision)
	writeJSON(w, map[string]any{
		"info": fmt.Sprintf("File saved at secure_uploads/%s", rec.Name),
		"file": rec,
	})
}

// GET /download/{filename}
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	decision, snap := s.checkGate(gate.OpDownload, filename)
	if !decision.Allowed {
		s.writeGateDenial(w, decision)
		return
	}

	rc, rec, err := s.store.Retrieve(r.Context(), filename)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "retrieving file failed")
		return
	}
	defer rc.Close()

	s.recordAudit(gate.OpDownload, filename, snap, decision)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	_, _ = io.Copy(w, rc)
}

// GET /api/v1/telemetry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"adversary_active": s.feed.AdversaryActive(),
		"samples":          s.feed.Window(),
	})
}

// GET /api/v1/audit?limit=50
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	entries := s.audit.Recent(limit)
	if entries == nil {
		entries = []gate.AuditEntry{}
	}
	writeJSON(w, entries)
}

// checkGate re-evaluates the access gate against the session state
// current at this instant. Denials are audited immediately; allowed
// operations are audited by the handler once the transfer succeeds.
func (s *Server) checkGate(op gate.Operation, filename string) (gate.Decision, session.Snapshot) {
	snap := s.engine.Current()
	decision := gate.Evaluate(snap, op, gate.Threshold(op))
	metrics.GateDecisions.WithLabelValues(op.String(), string(decision.Reason)).Inc()
	if !decision.Allowed {
		s.recordAudit(op, filename, snap, decision)
	}
	return decision, snap
}

func (s *Server) recordAudit(op gate.Operation, filename string, snap session.Snapshot, decision gate.Decision) {
	s.audit.Record(gate.AuditEntry{
		Timestamp: time.Now().UTC(),
		Operation: op.String(),
		FileName:  filename,
		SessionID: snap.ID,
		QBER:      snap.QBER,
		Threshold: gate.Threshold(op),
		Allowed:   decision.Allowed,
		Reason:    decision.Reason,
	})
}

func (s *Server) writeGateDenial(w http.ResponseWriter, decision gate.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"allowed": false,
		"reason":  decision.Reason,
		"error":   decision.Reason.Message(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
