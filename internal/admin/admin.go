// Package admin implements the operator HTTP surface: DLQ list/replay and
// adapter registry introspection, folded together here the way the
// teacher's single admin mux groups small operator endpoints.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/dlq"
	"github.com/greentic-ai/messaging-gateway/internal/registry"
)

// Server exposes DLQ and registry introspection over HTTP.
type Server struct {
	dlq      *dlq.Queue
	registry *registry.Registry
	logger   zerolog.Logger
}

func NewServer(dlqQueue *dlq.Queue, reg *registry.Registry, logger zerolog.Logger) *Server {
	return &Server{dlq: dlqQueue, registry: reg, logger: logger.With().Str("component", "admin").Logger()}
}

// NewRouter wires the operator surface: `GET /admin/dlq` to list entries,
// `POST /admin/dlq/replay` to replay them, and `GET /admin/registry` to
// introspect the loaded adapter registry.
func (s *Server) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.HandleFunc("GET /admin/dlq", s.handleListDLQ)
	mux.HandleFunc("POST /admin/dlq/replay", s.handleReplayDLQ)
	mux.HandleFunc("GET /admin/registry", s.handleListRegistry)
	mux.HandleFunc("GET /admin/registry/{name}", s.handleGetRegistryEntry)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// handleListDLQ lists entries for a tenant/stage, per spec §4.5's list op.
func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeErr(w, http.StatusServiceUnavailable, "E_DLQ_UNCONFIGURED", "DLQ is not configured")
		return
	}
	q := r.URL.Query()
	tenant := q.Get("tenant")
	stage := q.Get("stage")
	if tenant == "" || stage == "" {
		writeErr(w, http.StatusBadRequest, "E_BAD_QUERY", "tenant and stage query parameters are required")
		return
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.dlq.ListEntries(r.Context(), tenant, stage, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "E_DLQ_LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type replayRequest struct {
	Tenant      string `json:"tenant"`
	Stage       string `json:"stage"`
	TargetStage string `json:"target_stage"`
	Limit       int    `json:"limit,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
}

// handleReplayDLQ replays either a single entry (Seq set) or up to Limit
// entries for (tenant, stage), per spec §4.5's replay op. Replaying does
// not delete the original entry when targeting a single seq (ReplayEntry);
// batch replay acks consumed entries (ReplayEntries).
func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeErr(w, http.StatusServiceUnavailable, "E_DLQ_UNCONFIGURED", "DLQ is not configured")
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "E_BAD_BODY", "malformed replay request")
		return
	}
	if req.TargetStage == "" {
		writeErr(w, http.StatusBadRequest, "E_BAD_BODY", "target_stage is required")
		return
	}

	if req.Seq != 0 {
		entry, err := s.dlq.GetEntry(req.Seq)
		if err != nil {
			writeErr(w, http.StatusNotFound, "E_DLQ_ENTRY_NOT_FOUND", err.Error())
			return
		}
		if err := s.dlq.ReplayEntry(r.Context(), entry, req.TargetStage); err != nil {
			writeErr(w, http.StatusInternalServerError, "E_DLQ_REPLAY_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"replayed": 1})
		return
	}

	if req.Tenant == "" || req.Stage == "" {
		writeErr(w, http.StatusBadRequest, "E_BAD_BODY", "tenant and stage are required for a batch replay")
		return
	}
	count, err := s.dlq.ReplayEntries(r.Context(), req.Tenant, req.Stage, req.TargetStage, req.Limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "E_DLQ_REPLAY_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"replayed": count})
}

// handleListRegistry returns every loaded adapter descriptor, per spec
// §4.2's registry being introspectable by operators.
func (s *Server) handleListRegistry(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	var descriptors []registry.Descriptor
	if kind != "" {
		descriptors = s.registry.ByKind(registry.Kind(kind))
	} else {
		descriptors = s.registry.All()
	}
	writeJSON(w, http.StatusOK, map[string]any{"adapters": descriptors})
}

func (s *Server) handleGetRegistryEntry(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d, ok := s.registry.Get(name)
	if !ok {
		writeErr(w, http.StatusNotFound, "E_ADAPTER_NOT_FOUND", "no adapter registered with that name")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
