package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dohr-michael/taskgate/internal/catalog"
	"github.com/dohr-michael/taskgate/internal/config"
	"github.com/dohr-michael/taskgate/internal/events"
	"github.com/dohr-michael/taskgate/internal/gateway/ws"
	"github.com/dohr-michael/taskgate/internal/heartbeat"
	"github.com/dohr-michael/taskgate/internal/metrics"
	"github.com/dohr-michael/taskgate/internal/scheduler"
	"github.com/dohr-michael/taskgate/internal/storage"
	"github.com/dohr-michael/taskgate/internal/tamper"
	"github.com/dohr-michael/taskgate/internal/unlock"
)

// Options configures a Server.
type Options struct {
	Bus *events.Bus
	// Config returns the live configuration; visits read it when they open.
	Config  func() *config.Config
	Catalog *catalog.Catalog
	// EventLog serves /api/visits/{id}/events when set.
	EventLog *storage.EventLogger
	// Registry serves /metrics when set.
	Registry prometheus.Gatherer
	Clock    scheduler.Clock
}

// Server is the taskgate gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	config     func() *config.Config
	catalog    atomic.Pointer[catalog.Catalog]
	eventLog   *storage.EventLogger
	clock      scheduler.Clock
	addr       atomic.Value // string, set once listening
}

// NewServer creates a new gateway server.
func NewServer(opts Options) *Server {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock{}
	}

	s := &Server{
		bus:      opts.Bus,
		config:   opts.Config,
		eventLog: opts.EventLog,
		clock:    opts.Clock,
	}
	s.catalog.Store(opts.Catalog)
	s.hub = ws.NewHub(opts.Bus, s.newVisit)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Routes
	r.Get("/", s.handleIndex)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/visit", s.hub.ServeWS)
	r.Get("/api/catalog", s.handleCatalog)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/visits/{id}/events", s.handleVisitEvents)
	if opts.Registry != nil {
		r.Handle("/metrics", metrics.HandlerFor(opts.Registry))
	}

	gw := opts.Config().Gateway
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", gw.Host, gw.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetCatalog replaces the catalog used for visits opened from now on.
func (s *Server) SetCatalog(c *catalog.Catalog) {
	s.catalog.Store(c)
}

// Handler returns the router, for serving under another listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Stats reports visit counters for the heartbeat.
func (s *Server) Stats() heartbeat.Stats {
	st := s.hub.Stats()
	addr, _ := s.addr.Load().(string)
	return heartbeat.Stats{
		Addr:         addr,
		ActiveVisits: st.Active,
		TotalVisits:  st.Total,
		Lockouts:     st.Lockouts,
	}
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.addr.Store(ln.Addr().String())
	slog.Info("taskgate gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// newVisit opens a visit from the page's query string: the encoded resource
// under the configured parameter name and the initial viewport as w and h.
func (s *Server) newVisit(r *http.Request) (*unlock.Runtime, error) {
	cfg := s.config()
	q := r.URL.Query()

	w, _ := strconv.Atoi(q.Get("w"))
	h, _ := strconv.Atoi(q.Get("h"))

	return unlock.NewVisit(unlock.VisitOptions{
		Encoded:      q.Get(cfg.Session.ResourceParam),
		Catalog:      s.catalog.Load(),
		TaskCount:    cfg.Session.TaskCount,
		Clock:        s.clock,
		TickInterval: cfg.Session.TickInterval.Duration(),
		Tamper:       cfg.Tamper.Monitor(),
		Baseline:     tamper.Viewport{W: w, H: h},
		Bus:          s.bus,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(webFS, "web/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.catalog.Load()
	etag := `"` + c.Digest() + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	json.NewEncoder(w).Encode(map[string]any{
		"digest": c.Digest(),
		"tasks":  c.Definitions(),
	})
}

// eventJSON formats timestamps for API consumers.
type eventJSON struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id,omitempty"`
	Type      string             `json:"type"`
	Timestamp string             `json:"timestamp"`
	Source    events.EventSource `json:"source"`
	Payload   map[string]any     `json:"payload"`
}

func toEventJSON(list []events.Event) []eventJSON {
	result := make([]eventJSON, len(list))
	for i, e := range list {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	return result
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEventJSON(s.bus.History(limit)))
}

func (s *Server) handleVisitEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventLog == nil {
		http.Error(w, "event log not enabled", http.StatusServiceUnavailable)
		return
	}

	list, err := s.eventLog.Read(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrInvalidVisitID):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "visit not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEventJSON(list))
}
