package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
	"github.com/ethereum-optimism/infra/op-taskrunner/status"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080

	shutdownTimeout = 5 * time.Second
)

// Store is the read side of a status repository the service exposes
type Store interface {
	status.Repo
	status.Lister
}

// Config configures a Service
type Config struct {
	Host string
	Port int
	// Store enables the /tasks routes when set
	Store Store
	Log   log.Logger
}

// Service serves healthz, prometheus metrics and, when a store is given,
// read-only views of the recorded status events
type Service struct {
	cfg    Config
	log    log.Logger
	router *mux.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	group    *errgroup.Group
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	s := &Service{
		cfg: cfg,
		log: cfg.Log.New("component", "service"),
	}
	s.router = s.routes()
	return s
}

func (s *Service) routes() *mux.Router {
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.cfg.Store != nil {
		r.HandleFunc("/tasks", s.handleTasks).Methods(http.MethodGet)
		r.HandleFunc("/tasks/{id}/events", s.handleEvents).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the CORS wrapped router
func (s *Service) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(s.router)
}

// Start binds the listener and serves in the background
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("service already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.RecordErrorDetails("service_listen", err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = lis
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.group = new(errgroup.Group)
	s.group.Go(func() error {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "addr", lis.Addr(), "err", err)
			metrics.RecordErrorDetails("service_serve", err)
			return err
		}
		return nil
	})
	s.log.Info("Service started", "addr", lis.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server, group := s.server, s.group
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	s.log.Info("Service shutting down")
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	if werr := group.Wait(); werr != nil && err == nil {
		err = werr
	}
	s.log.Info("Service stopped")
	return err
}
