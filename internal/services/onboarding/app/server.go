// Package app wires the onboarding engines to their HTTP surface and
// backing stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emberline/threshold/internal/platform/id"
	"github.com/emberline/threshold/internal/platform/timeouts"
	"github.com/emberline/threshold/internal/services/onboarding/linking"
	"github.com/emberline/threshold/internal/services/onboarding/reveal"
	"github.com/emberline/threshold/internal/services/onboarding/session"
	"github.com/emberline/threshold/internal/services/onboarding/storage"
	"github.com/emberline/threshold/internal/services/onboarding/wizard"
)

// DefaultSessionTTL bounds how long an idle session stays resident.
const DefaultSessionTTL = time.Hour

// Options configures the onboarding server.
type Options struct {
	Answers   storage.AnswerStore
	Bindings  storage.BindingStore
	Wallets   storage.WalletStore
	Companies storage.CompanyStore

	Authorizer linking.Authorizer
	Tokens     session.Config
	Providers  []linking.Provider

	RevealInterval time.Duration
	SessionTTL     time.Duration
	Clock          func() time.Time
}

// Server hosts the onboarding HTTP endpoints and owns the in-memory
// session registries for both engines.
type Server struct {
	opts  Options
	clock func() time.Time

	mu      sync.Mutex
	wizards map[string]*wizardSession
	linkers map[string]*linkSession
}

type wizardSession struct {
	id       string
	flow     wizard.Flow
	engine   *wizard.Engine
	nav      *handoff
	mu       sync.Mutex
	token    string
	lastSeen time.Time
}

type linkSession struct {
	id       string
	agg      *linking.Aggregator
	bridge   *relayBridge
	nav      *handoff
	name     string
	mu       sync.Mutex
	lastSeen time.Time
}

// NewServer builds an onboarding server from its dependencies.
func NewServer(opts Options) (*Server, error) {
	if opts.Answers == nil || opts.Bindings == nil || opts.Wallets == nil || opts.Companies == nil {
		return nil, errors.New("all stores are required")
	}
	if opts.Authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if len(opts.Providers) == 0 {
		opts.Providers = linking.DefaultProviders()
	}
	if opts.RevealInterval <= 0 {
		opts.RevealInterval = reveal.DefaultInterval
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Server{
		opts:    opts,
		clock:   opts.Clock,
		wizards: make(map[string]*wizardSession),
		linkers: make(map[string]*linkSession),
	}, nil
}

// RegisterRoutes registers onboarding HTTP endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /onboarding/start", s.handleWizardStart)
	mux.HandleFunc("GET /onboarding/{sid}", s.handleWizardGet)
	mux.HandleFunc("POST /onboarding/{sid}/answer", s.handleWizardAnswer)
	mux.HandleFunc("POST /onboarding/{sid}/select", s.handleWizardSelect)
	mux.HandleFunc("POST /onboarding/{sid}/confirm", s.handleWizardConfirm)
	mux.HandleFunc("POST /onboarding/{sid}/complete", s.handleWizardComplete)

	mux.HandleFunc("POST /linking/start", s.handleLinkingStart)
	mux.HandleFunc("GET /linking/{sid}", s.handleLinkingGet)
	mux.HandleFunc("POST /linking/{sid}/connect/{provider}", s.handleLinkingConnect)
	mux.HandleFunc("POST /linking/{sid}/wallet/connect", s.handleWalletConnect)
	mux.HandleFunc("POST /linking/{sid}/wallet/accounts", s.handleWalletAccounts)
	mux.HandleFunc("POST /linking/{sid}/retry-wallet", s.handleWalletRetry)
	mux.HandleFunc("POST /linking/{sid}/skip", s.handleLinkingSkip)

	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return otelhttp.NewHandler(mux, "onboarding")
}

// StartCleanup evicts idle sessions on a fixed cadence so abandoned
// flows do not accumulate.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictIdle(s.clock().UTC())
			}
		}
	}()
}

func (s *Server) evictIdle(now time.Time) {
	cutoff := now.Add(-s.opts.SessionTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, ws := range s.wizards {
		ws.mu.Lock()
		idle := ws.lastSeen.Before(cutoff)
		ws.mu.Unlock()
		if idle {
			ws.engine.Close()
			delete(s.wizards, sid)
		}
	}
	for sid, ls := range s.linkers {
		ls.mu.Lock()
		idle := ls.lastSeen.Before(cutoff)
		ls.mu.Unlock()
		if idle {
			ls.agg.Close()
			delete(s.linkers, sid)
		}
	}
}

func (s *Server) wizardSession(sid string) (*wizardSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.wizards[sid]
	if ok {
		ws.mu.Lock()
		ws.lastSeen = s.clock().UTC()
		ws.mu.Unlock()
	}
	return ws, ok
}

func (s *Server) linkSession(sid string) (*linkSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.linkers[sid]
	if ok {
		ls.mu.Lock()
		ls.lastSeen = s.clock().UTC()
		ls.mu.Unlock()
	}
	return ls, ok
}

// Run serves the onboarding HTTP API on port until ctx ends.
func Run(ctx context.Context, port int, opts Options) error {
	server, err := NewServer(opts)
	if err != nil {
		return err
	}
	return server.Serve(ctx, port)
}

// Serve starts the HTTP listener and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.StartCleanup(serverCtx, 5*time.Minute)

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	log.Printf("onboarding server listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newSessionID() (string, error) {
	return id.NewID()
}
