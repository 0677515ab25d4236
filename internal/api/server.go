package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/warden/internal/blocker"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/ratelimit"
)

const maxBodySize = 1 << 20

// Manager is the part of the firewall the API drives.
type Manager interface {
	Status() firewall.Status
	Rules() []firewall.Rule
	RuleDefects() []*firewall.RuleError

	Blocklist() []blocker.Entry
	AddToBlacklist(addr netip.Addr, d time.Duration) (blocker.Entry, error)
	RemoveFromBlacklist(addr netip.Addr) error

	BlockCountry(code string) bool
	UnblockCountry(code string) bool
	EnableThreatProtection()
	SetGeoEnabled(enabled bool)
	BlockedCountries() []string
	GeoEnabled() bool

	Start() error
	Stop() error
}

// Options configure a Server.
type Options struct {
	Manager Manager
	Hub     *events.Hub
	Logger  *logging.Logger
	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string
	// RateLimit is mutating requests per minute per client. Zero disables it.
	RateLimit int
	// Reload re-reads the configuration file. Nil disables the reload route.
	Reload func() error
	// Health backs /healthz. Nil reports a plain liveness response.
	Health *health.Checker
	Clock  clock.Clock
}

// Server is the management API server.
type Server struct {
	mgr     Manager
	hub     *events.Hub
	logger  *logging.Logger
	reload  func() error
	health  *health.Checker
	auth    *tokenAuth
	limiter *ratelimit.Limiter
	mux     *http.ServeMux

	closeOnce sync.Once
	closing   chan struct{}
}

// NewServer creates a Server from opts.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("api")
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub()
	}
	s := &Server{
		mgr:     opts.Manager,
		hub:     opts.Hub,
		logger:  opts.Logger,
		reload:  opts.Reload,
		health:  opts.Health,
		auth:    newTokenAuth(opts.TokenHash),
		limiter: ratelimit.New(opts.RateLimit, time.Minute, opts.Clock),
		mux:     http.NewServeMux(),
		closing: make(chan struct{}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, s.requireAuth(s.rateLimit(h)))
	}

	api("GET /api/status", s.handleStatus)
	api("GET /api/rules", s.handleRules)
	api("POST /api/rules/reload", s.handleReload)

	api("GET /api/blocklist", s.handleBlocklist)
	api("POST /api/blocklist", s.handleBlock)
	api("DELETE /api/blocklist/{ip}", s.handleUnblock)

	api("GET /api/geo", s.handleGeo)
	api("POST /api/geo/enabled", s.handleGeoEnabled)
	api("POST /api/geo/countries", s.handleBlockCountry)
	api("DELETE /api/geo/countries/{code}", s.handleUnblockCountry)
	api("POST /api/geo/threat-protection", s.handleThreatProtection)

	api("POST /api/firewall/start", s.handleStart)
	api("POST /api/firewall/stop", s.handleStop)

	api("GET /api/logs", s.handleLogs)
	api("GET /api/events", s.handleEvents)

	s.mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.mux.Handle("GET /healthz", s.health.Handler())
	} else {
		s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		})
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.requestID(s.logRequests(maxBodyMiddleware(maxBodySize)(s.mux)))
}

// Close ends open event streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.limiter.RunCleanup(ctx, time.Minute, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// logRequests logs each request and records its metrics, labelled by the
// matched route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.Get().RecordAPIRequest(r.Method, route, rw.status, elapsed.Seconds())
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", elapsed,
			"request_id", w.Header().Get("X-Request-ID"),
		)
	})
}

func maxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies to mutating methods only.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		ok, retry := s.limiter.Allow(clientIP(r))
		if !ok {
			secs := int(retry.Seconds() + 0.999)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack is needed by the websocket upgrader.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
