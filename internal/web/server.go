package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/okynn/senderctl/internal/control"
	"github.com/okynn/senderctl/internal/events"
	"github.com/okynn/senderctl/internal/identity"
	"github.com/okynn/senderctl/internal/lifecycle"
	"github.com/okynn/senderctl/internal/logging"
	"github.com/okynn/senderctl/internal/registry"
	"github.com/okynn/senderctl/internal/store"
)

// TenantHeader names the tenant for every request. An upstream proxy is
// trusted to set it; requests without it are rejected.
const TenantHeader = "X-Tenant"

// Lifecycle is the slice of the lifecycle driver the HTTP surface needs.
type Lifecycle interface {
	Start(ctx context.Context, id identity.Identity, profile lifecycle.Profile) error
	RemoveSender(ctx context.Context, id identity.Identity) error
}

// Server serves the tenant-facing sender management API and SSE stream.
type Server struct {
	runCtx    context.Context
	lifecycle Lifecycle
	records   *store.Records
	registry  *registry.Registry
	publisher *events.Publisher
	pending   *control.PendingStore
	log       zerolog.Logger
	started   time.Time
}

// NewServer wires the HTTP surface to its collaborators. runCtx bounds
// the attempt chains the server spawns and must be the process context,
// never a request context.
func NewServer(
	runCtx context.Context,
	lc Lifecycle,
	records *store.Records,
	reg *registry.Registry,
	publisher *events.Publisher,
	pending *control.PendingStore,
) *Server {
	return &Server{
		runCtx:    runCtx,
		lifecycle: lc,
		records:   records,
		registry:  reg,
		publisher: publisher,
		pending:   pending,
		log:       logging.Component("web"),
		started:   time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/senders", s.handleListSenders).Methods(http.MethodGet)
	r.HandleFunc("/api/add-sender", s.handleAddSender).Methods(http.MethodPost)
	r.HandleFunc("/api/reconnect-sender", s.handleReconnectSender).Methods(http.MethodPost)
	r.HandleFunc("/api/delete-sender", s.handleDeleteSender).Methods(http.MethodPost)
	r.HandleFunc("/api/selection", s.handlePutSelection).Methods(http.MethodPost)
	r.HandleFunc("/api/selection", s.handleGetSelection).Methods(http.MethodGet)
	r.HandleFunc("/api/selection", s.handleClearSelection).Methods(http.MethodDelete)
	return r
}

// Selection handlers park a tenant's in-progress choice between two
// interactions of a multi-step flow. Slots expire on the pending store's
// TTL; a stale follow-up simply finds nothing.

func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var body struct {
		Action string            `json:"action"`
		Args   map[string]string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Action == "" {
		s.respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	s.pending.Put(tenant, control.Selection{Action: body.Action, Args: body.Args})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	sel, ok := s.pending.Get(tenant)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no pending selection")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"action": sel.Action,
		"args":   sel.Args,
	})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	s.pending.Clear(tenant)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, err := s.records.TotalCount()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "session records unreadable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"uptime":             time.Since(s.started).String(),
		"live_sessions":      s.registry.Count(),
		"registered_senders": total,
	})
}

// handleEvents attaches the caller as the tenant's event observer. The
// backlog replays first, then the publisher's synthetic ack marks the
// point from which delivery is live. The handler blocks until the client
// goes away; the publisher's keep-alive prober reaps streams whose
// clients vanished without closing.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	sink, err := newSSESink(w)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, ev := range s.publisher.Backlog(tenant) {
		if err := sink.WriteEvent(ev); err != nil {
			return
		}
	}
	s.publisher.Register(tenant, sink)
	defer s.publisher.Unregister(tenant, sink)

	s.log.Debug().Str("tenant", tenant).Msg("event stream attached")
	select {
	case <-r.Context().Done():
	case <-s.runCtx.Done():
	}
	s.log.Debug().Str("tenant", tenant).Msg("event stream detached")
}

func (s *Server) handleListSenders(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	numbers, err := s.records.Numbers(tenant)
	if err != nil && !errors.Is(err, store.ErrTenantUnknown) {
		s.respondError(w, http.StatusInternalServerError, "session records unreadable")
		return
	}

	type senderStatus struct {
		Number    string `json:"number"`
		Connected bool   `json:"connected"`
	}
	senders := make([]senderStatus, 0, len(numbers))
	for _, number := range numbers {
		senders = append(senders, senderStatus{
			Number:    number,
			Connected: s.registry.Has(identity.Identity{Tenant: tenant, Number: number}),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"senders": senders})
}

// handleAddSender validates the request synchronously and runs the
// pairing attempt in the background; progress reaches the tenant over
// the event stream, not this response.
func (s *Server) handleAddSender(w http.ResponseWriter, r *http.Request) {
	id, ok := s.senderIdentity(w, r)
	if !ok {
		return
	}
	s.startChain(id)
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"number": id.Number,
	})
}

func (s *Server) handleReconnectSender(w http.ResponseWriter, r *http.Request) {
	id, ok := s.senderIdentity(w, r)
	if !ok {
		return
	}
	numbers, err := s.records.Numbers(id.Tenant)
	if err != nil {
		if errors.Is(err, store.ErrTenantUnknown) {
			s.respondError(w, http.StatusNotFound, "sender not registered for tenant")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "session records unreadable")
		return
	}
	known := false
	for _, number := range numbers {
		if number == id.Number {
			known = true
			break
		}
	}
	if !known {
		s.respondError(w, http.StatusNotFound, "sender not registered for tenant")
		return
	}

	s.startChain(id)
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"number": id.Number,
	})
}

func (s *Server) handleDeleteSender(w http.ResponseWriter, r *http.Request) {
	id, ok := s.senderIdentity(w, r)
	if !ok {
		return
	}
	if err := s.lifecycle.RemoveSender(r.Context(), id); err != nil {
		if errors.Is(err, lifecycle.ErrUnknownSender) {
			s.respondError(w, http.StatusNotFound, "sender not registered for tenant")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "removed",
		"number": id.Number,
	})
}

// startChain dispatches one interactive attempt chain on the process
// context. Outcomes are informational here; the tenant watches them on
// the event stream.
func (s *Server) startChain(id identity.Identity) {
	go func() {
		err := s.lifecycle.Start(s.runCtx, id, lifecycle.ProfileInteractive)
		switch {
		case err == nil:
			s.log.Info().Stringer("identity", id).Msg("sender connected")
		case errors.Is(err, lifecycle.ErrAttemptInFlight):
			s.log.Debug().Stringer("identity", id).Msg("attempt already in flight")
		default:
			s.log.Warn().Stringer("identity", id).Err(err).Msg("sender attempt failed")
		}
	}()
}

// senderIdentity reads the tenant header and the {"number": ...} body
// and returns a validated, normalized identity.
func (s *Server) senderIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return identity.Identity{}, false
	}
	var body struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return identity.Identity{}, false
	}
	id, err := identity.New(tenant, body.Number)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return identity.Identity{}, false
	}
	return id, true
}

func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get(TenantHeader)
	if err := identity.ValidateTenant(tenant); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return tenant, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Debug().Err(err).Msg("response write failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Flush keeps the recorder transparent for the SSE handler.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		event := s.log.Info()
		if rec.status >= 500 {
			event = s.log.Error()
		} else if rec.status >= 400 {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http_request")
	})
}
