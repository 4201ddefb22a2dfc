package profileapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"clickerclicker.app/internal/persistence/indexdb"
	"clickerclicker.app/internal/profile"
	"clickerclicker.app/internal/protocol"
)

const maxBody = 64 << 10

type Options struct {
	Logger *log.Logger
	// RegisterRPS limits registrations per remote host; <= 0 disables the limiter.
	RegisterRPS   float64
	RegisterBurst int
	// IndexStats reports the sqlite read model queue, when one is attached.
	IndexStats func() indexdb.Stats
	Clock      func() time.Time
}

type Server struct {
	store *profile.Store
	log   *log.Logger
	opts  Options

	limMu     sync.Mutex
	limiters  map[string]*hostLimiter
	lastSweep time.Time
}

type hostLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// maxLimiters bounds the per-host limiter table; past it the least recently seen host is dropped.
var maxLimiters = 10000

func NewServer(store *profile.Store, opts Options) *Server {
	if opts.RegisterBurst <= 0 {
		opts.RegisterBurst = 5
	}
	return &Server{
		store:    store,
		log:      opts.Logger,
		opts:     opts,
		limiters: map[string]*hostLimiter{},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api", func(r chi.Router) {
		r.Get("/players", s.handleList)
		r.Post("/player/register", s.handleRegister)
		r.Get("/player/{id}", s.handleGet)
		r.Post("/player/{id}/sync", s.handleSync)
	})
	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r) {
		writeError(w, http.StatusTooManyRequests, protocol.ErrRateLimit, "too many registrations")
		return
	}
	raw, ok := readBody(w, r, protocol.SchemaRegister)
	if !ok {
		return
	}
	var req protocol.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	prof, created, err := s.store.Register(req.PlayerName)
	if err != nil {
		if errors.Is(err, profile.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidInput, "player_name must not be empty")
			return
		}
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	msg := protocol.MessageWelcomeBack
	if created {
		msg = protocol.MessageAccountCreated
		s.logf("registered %s (%s)", prof.PlayerName, prof.PlayerID)
	}
	writeJSON(w, http.StatusOK, protocol.RegisterResponse{
		PlayerID:   prof.PlayerID,
		PlayerName: prof.PlayerName,
		Message:    msg,
		Progress:   prof.Progress,
		LastUpdate: prof.LastUpdate,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, ok := readBody(w, r, protocol.SchemaSync)
	if !ok {
		return
	}
	var req protocol.SyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	prof, err := s.store.Sync(id, req.Progress)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	prof, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:      "ok",
		Timestamp:   s.now().Unix(),
		PlayerCount: s.store.Count(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP clickerclicker_profiles Current number of player profiles.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_profiles gauge\n")
	fmt.Fprintf(w, "clickerclicker_profiles %d\n", st.Players)
	fmt.Fprintf(w, "# HELP clickerclicker_registrations_total Registration requests accepted.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_registrations_total counter\n")
	fmt.Fprintf(w, "clickerclicker_registrations_total %d\n", st.Registrations)
	fmt.Fprintf(w, "# HELP clickerclicker_profiles_created_total Profiles created by registration.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_profiles_created_total counter\n")
	fmt.Fprintf(w, "clickerclicker_profiles_created_total %d\n", st.Created)
	fmt.Fprintf(w, "# HELP clickerclicker_syncs_total Progress uploads applied.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_syncs_total counter\n")
	fmt.Fprintf(w, "clickerclicker_syncs_total %d\n", st.Syncs)
	fmt.Fprintf(w, "# HELP clickerclicker_profile_write_failures_total Profile file writes that failed.\n")
	fmt.Fprintf(w, "# TYPE clickerclicker_profile_write_failures_total counter\n")
	fmt.Fprintf(w, "clickerclicker_profile_write_failures_total %d\n", st.WriteFailures)
	if s.opts.IndexStats != nil {
		ix := s.opts.IndexStats()
		fmt.Fprintf(w, "# HELP clickerclicker_index_queue_depth SQLite index queue depth.\n")
		fmt.Fprintf(w, "# TYPE clickerclicker_index_queue_depth gauge\n")
		fmt.Fprintf(w, "clickerclicker_index_queue_depth %d\n", ix.QueueDepth)
		fmt.Fprintf(w, "# HELP clickerclicker_index_dropped_total SQLite index rows dropped on a full queue.\n")
		fmt.Fprintf(w, "# TYPE clickerclicker_index_dropped_total counter\n")
		fmt.Fprintf(w, "clickerclicker_index_dropped_total %d\n", ix.Dropped)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "player not found")
		return
	}
	writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
}

func (s *Server) allow(r *http.Request) bool {
	if s.opts.RegisterRPS <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	now := s.now()
	s.limMu.Lock()
	hl, ok := s.limiters[host]
	if !ok {
		s.sweepLimitersLocked(now)
		hl = &hostLimiter{lim: rate.NewLimiter(rate.Limit(s.opts.RegisterRPS), s.opts.RegisterBurst)}
		s.limiters[host] = hl
	}
	hl.seen = now
	s.limMu.Unlock()
	return hl.lim.Allow()
}

// sweepLimitersLocked drops limiters idle long enough to have refilled, so forgetting them changes
// no decision. It runs at most once a minute unless the table is full.
func (s *Server) sweepLimitersLocked(now time.Time) {
	full := len(s.limiters) >= maxLimiters
	if !full && now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	idle := time.Duration(float64(s.opts.RegisterBurst) / s.opts.RegisterRPS * float64(time.Second))
	if idle < 10*time.Minute {
		idle = 10 * time.Minute
	}
	for host, hl := range s.limiters {
		if now.Sub(hl.seen) > idle {
			delete(s.limiters, host)
		}
	}
	for len(s.limiters) >= maxLimiters {
		var oldest string
		for host, hl := range s.limiters {
			if oldest == "" || hl.seen.Before(s.limiters[oldest].seen) {
				oldest = host
			}
		}
		delete(s.limiters, oldest)
	}
}

// readBody reads a bounded JSON body and validates it against schema. On failure the 400 response
// has already been written.
func readBody(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return nil, false
	}
	if err := protocol.ValidateJSON(schema, raw); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return nil, false
	}
	return raw, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorBody{Error: msg, Code: code})
}

func (s *Server) now() time.Time {
	if s.opts.Clock != nil {
		return s.opts.Clock()
	}
	return time.Now()
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
