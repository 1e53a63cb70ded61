// Package debug serves an optional local HTTP listener for a running daemon:
// a liveness probe, a JSON status document and the net/http/pprof profiles.
package debug

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/runtime/supervisor"
	logx "jobvisor/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:6060"
	pprofPrefix = "/debug/pprof/"
)

// Config controls the listener. A non-loopback Addr needs a Token unless
// AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	ReadTimeout   time.Duration
	IdleTimeout   time.Duration
}

// StatusFunc returns the document served at /status. It must be safe to call
// from any goroutine.
type StatusFunc func(ctx context.Context) any

type Server struct {
	status StatusFunc
	log    logx.Logger

	mu   sync.Mutex
	cfg  Config
	sup  *supervisor.Supervisor
	addr string
}

func New(status StatusFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{status: status, log: log}
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure starts, stops or restarts the listener to match cfg.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev, running := s.cfg, s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.start(ctx)
	}
}

func (s *Server) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	// A listener problem must never take the daemon down.
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	s.sup.GoRestart("debug.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
}

// Stop shuts the listener down and waits for it within ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("debug listener stop incomplete", logx.Err(err))
	}
	s.log.Info("debug listener stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !IsLoopback(addr) {
		s.log.Error("debug listener refused: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		<-ctx.Done()
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "listen %s", addr)
	}

	srv := &http.Server{
		Handler:           s.handler(cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.addr = ""
		s.mu.Unlock()
	}()

	s.log.Info("debug listener started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug listener exited unexpectedly")
	}
	return err
}

func (s *Server) handler(token string) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withToken(token, h) }

	mux.HandleFunc("/healthz", auth(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/status", auth(func(w http.ResponseWriter, r *http.Request) {
		var doc any
		if s.status != nil {
			doc = s.status(r.Context())
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			s.log.Warn("status encode failed", logx.Err(err))
		}
	}))

	mux.HandleFunc(pprofPrefix, auth(hpprof.Index))
	mux.HandleFunc(pprofPrefix+"cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc(pprofPrefix+"profile", auth(hpprof.Profile))
	mux.HandleFunc(pprofPrefix+"symbol", auth(hpprof.Symbol))
	mux.HandleFunc(pprofPrefix+"trace", auth(hpprof.Trace))
	return mux
}

// withToken accepts "Authorization: Bearer <token>" or ?token=<token>.
func withToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// IsLoopback reports whether addr (host:port) binds only to a loopback host.
// An empty host means every interface.
func IsLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
