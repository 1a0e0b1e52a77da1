package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/client"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// Server exposes read-only status and a few operational controls of a
// running client over HTTP.
type Server struct {
	addr       string
	client     *client.Client
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty.
func NewServer(addr string, c *client.Client) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || c == nil {
		return nil
	}

	s := &Server{addr: addr, client: c}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routes without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/sweep", s.handleSweep)
	return mux
}

// Addr returns the bound address once Start succeeded, else the configured one.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

type shiftView struct {
	ID        uint64    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	SettledAt time.Time `json:"settled_at"`
	// Evicted is -1 for jobs that keep entries forever.
	Evicted int    `json:"evicted"`
	Error   string `json:"error,omitempty"`
}

func viewShift(sh cache.Shift) *shiftView {
	if sh.ID == 0 {
		return nil
	}
	v := &shiftView{ID: sh.ID, StartedAt: sh.StartedAt, SettledAt: sh.SettledAt, Evicted: sh.Evicted}
	if sh.Err != nil {
		v.Error = sh.Err.Error()
	}
	return v
}

type jobView struct {
	Name      string      `json:"name"`
	Kind      entity.Kind `json:"kind"`
	State     string      `json:"state"`
	Interval  string      `json:"interval"`
	Lifetime  string      `json:"lifetime"`
	LastShift *shiftView  `json:"last_shift,omitempty"`
}

type statusView struct {
	Ready         bool      `json:"ready"`
	Pending       int       `json:"pending"`
	WaitingGuilds int       `json:"waiting_guilds"`
	Jobs          []jobView `json:"jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	st := statusView{
		Ready:         s.client.Pipeline().Ready(),
		Pending:       s.client.Pipeline().Pending(),
		WaitingGuilds: s.client.Bridge().Waiting(),
		Jobs:          []jobView{},
	}
	for _, j := range s.client.Directory().Janitor().Jobs() {
		cfg := j.Config()
		st.Jobs = append(st.Jobs, jobView{
			Name:      j.Name(),
			Kind:      cfg.Kind,
			State:     j.State().String(),
			Interval:  cfg.Interval.String(),
			Lifetime:  cfg.Lifetime.String(),
			LastShift: viewShift(j.CurrentShift()),
		})
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	stats := s.client.Stats()
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := entity.ParseKind(k)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, stats[kind])
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.client.Counts())
}

// handleSweep runs one shift of the job of ?kind= right away.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	kind, err := entity.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job := s.client.Directory().Janitor().Job(kind)
	if job == nil {
		http.Error(w, fmt.Sprintf("no sweep job for %s", kind), http.StatusNotFound)
		return
	}
	sh := job.RunShift()
	if errors.Is(sh.Err, cache.ErrJobStopped) {
		http.Error(w, fmt.Sprintf("sweep job %s is stopped", job.Name()), http.StatusConflict)
		return
	}
	log.CacheLogger().Info("Manual sweep", "job", job.Name(), "kind", kind, "evicted", sh.Evicted)
	writeJSON(w, http.StatusOK, viewShift(sh))
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ApplicationLogger().Error("Failed to encode control response", "err", err)
	}
}
