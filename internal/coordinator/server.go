package coordinator

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/proofnode/internal/orchestrator"
	"github.com/dreamware/proofnode/internal/storage"
)

const maxRequestBytes = 64 << 20

// Server answers the task protocol over HTTP.
type Server struct {
	registry *TaskRegistry
	store    storage.ProofStore
	logger   zerolog.Logger
	now      func() time.Time
}

// NewServer wires a registry and a proof store behind HTTP handlers.
func NewServer(registry *TaskRegistry, store storage.ProofStore, logger zerolog.Logger) *Server {
	return &Server{
		registry: registry,
		store:    store,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		now:      time.Now,
	}
}

// Handler returns the routes:
//
//	POST /tasks         issue a task (TaskRequest -> TaskResponse)
//	POST /tasks/submit  accept a proof (SubmitRequest -> empty body)
//	GET  /status        JSON summary of leases and stored proofs
//	GET  /health        200 OK
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(orchestrator.PathTasks, s.handleTasks)
	mux.HandleFunc(orchestrator.PathSubmit, s.handleSubmit)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req orchestrator.TaskRequest
	if err := req.Unmarshal(body); err != nil {
		http.Error(w, "malformed task request", http.StatusBadRequest)
		return
	}
	if req.NodeID == "" {
		http.Error(w, "missing node_id", http.StatusBadRequest)
		return
	}

	lease, err := s.registry.Issue(req.NodeID)
	switch {
	case errors.Is(err, ErrTooManyLeases):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info().
		Uint64("task", lease.TaskID).
		Str("node", lease.NodeID).
		Str("node_type", req.NodeType.String()).
		Str("program", lease.ProgramID).
		Msg("task issued")

	resp := orchestrator.TaskResponse{
		ProgramID:    lease.ProgramID,
		PublicInputs: lease.Input,
		TaskID:       lease.TaskID,
	}
	w.Header().Set("Content-Type", orchestrator.ContentType)
	_, _ = w.Write(resp.Marshal())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req orchestrator.SubmitRequest
	if err := req.Unmarshal(body); err != nil {
		http.Error(w, "malformed submit request", http.StatusBadRequest)
		return
	}

	sub := orchestrator.ProofSubmission{
		NodeID:    req.NodeID,
		ProofHash: req.ProofHash,
		Proof:     req.Proof,
		TaskID:    req.TaskID,
	}
	lease, err := s.registry.Complete(sub)
	if err != nil {
		code := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrUnknownTask):
			code = http.StatusNotFound
		case errors.Is(err, ErrNotLeaseHolder):
			code = http.StatusForbidden
		case errors.Is(err, ErrHashMismatch):
			code = http.StatusConflict
		}
		s.logger.Warn().Err(err).Str("node", req.NodeID).Int("status", code).Msg("submission rejected")
		http.Error(w, err.Error(), code)
		return
	}

	rec := storage.ProofRecord{
		AcceptedAt: s.now(),
		NodeID:     req.NodeID,
		ProgramID:  lease.ProgramID,
		ProofHash:  req.ProofHash,
		Proof:      req.Proof,
		TaskID:     req.TaskID,
	}
	if err := s.store.Put(rec); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ev := s.logger.Info().
		Uint64("task", req.TaskID).
		Str("node", req.NodeID).
		Int("proof_bytes", len(req.Proof))
	if t := req.Telemetry; t != nil {
		if t.FlopsPerSec != nil {
			ev = ev.Int32("flops", *t.FlopsPerSec)
		}
		if t.MemoryUsedMB != nil {
			ev = ev.Float64("memory_used_mb", float64(*t.MemoryUsedMB)/1000)
		}
		if t.Location != nil {
			ev = ev.Str("location", *t.Location)
		}
	}
	ev.Msg("proof accepted")

	w.WriteHeader(http.StatusOK)
}

// Status is the JSON body of GET /status.
type Status struct {
	Issued       map[string]uint64 `json:"issued"`
	ProofsByNode map[string]int    `json:"proofs_by_node"`
	ActiveLeases []uint64          `json:"active_leases"`
	Proofs       int               `json:"proofs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.store.Stats()
	active := s.registry.Active()
	ids := make([]uint64, len(active))
	for i, l := range active {
		ids[i] = l.TaskID
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Status{
		Issued:       s.registry.Issued(),
		ProofsByNode: stats.PerNode,
		ActiveLeases: ids,
		Proofs:       stats.Proofs,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}
