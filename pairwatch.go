// Package pairwatch embeds a mutual watchdog: two programs each run a
// Controller that keeps the other alive through a shared record file.
package pairwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/pairwatch/internal/config"
	"github.com/loykin/pairwatch/internal/history"
	"github.com/loykin/pairwatch/internal/history/factory"
	"github.com/loykin/pairwatch/internal/metrics"
	"github.com/loykin/pairwatch/internal/record"
	"github.com/loykin/pairwatch/internal/redeploy"
	iapi "github.com/loykin/pairwatch/internal/server"
	pwtls "github.com/loykin/pairwatch/internal/tls"
	"github.com/loykin/pairwatch/internal/watchdog"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = watchdog.Config

type Target = watchdog.Target

type Status = watchdog.Status

type CycleResult = watchdog.CycleResult

type Controller = watchdog.Controller

type Option = watchdog.Option

type HistorySink = history.Sink

type HistoryEvent = history.Event

type RecordPair = record.Pair

type FileConfig = cfg.Config

var (
	ErrInvalidConfig = watchdog.ErrInvalidConfig
	ErrUnavailable   = redeploy.ErrUnavailable
)

func DefaultConfig() Config { return watchdog.DefaultConfig() }

// New builds a watchdog Controller; call Start on it to begin the loop.
func New(c Config, opts ...Option) (*Controller, error) { return watchdog.New(c, opts...) }

func WithLogger(l *slog.Logger) Option        { return watchdog.WithLogger(l) }
func WithHistory(sinks ...HistorySink) Option { return watchdog.WithHistory(sinks...) }
func WithPeerUsage(u *metrics.PeerUsageCollector) Option {
	return watchdog.WithPeerUsage(u)
}

func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// NewHistorySinks builds sinks from DSNs such as sqlite:///var/lib/pw.db or
// opensearch://host:9200/index.
func NewHistorySinks(dsns []string) (history.Multi, error) { return factory.NewSinksFromDSNs(dsns) }

// NewHTTPServer starts an HTTP server exposing the status API of c.
func NewHTTPServer(addr, basePath string, c *Controller) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, c)
}

// Record helpers

func ReadRecord(path string) (RecordPair, error) { return record.Read(path) }
func WriteRecord(path string, ownSlot, ownID, peerID int) error {
	return record.WriteBoth(path, ownSlot, ownID, peerID)
}

// EnsurePresent restores target from backup when it is missing.
func EnsurePresent(target, backup string) (redeploy.Result, error) {
	return redeploy.EnsurePresent(target, backup)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	return newMetricsServer(addr).ListenAndServe()
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Service is a watchdog together with the observers its file configuration
// enables: history sinks, peer usage sampling, metrics and status servers.
type Service struct {
	cfg        *FileConfig
	logger     *slog.Logger
	controller *Controller
	sinks      history.Multi
	usage      *metrics.PeerUsageCollector
	api        *http.Server
	metrics    *http.Server
}

// NewService wires a Service from a loaded configuration. Nothing is
// started and no listener is opened.
func NewService(c *FileConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: c, logger: logger}
	opts := []Option{WithLogger(logger)}
	if c.History.Enabled {
		sinks, err := factory.NewSinksFromDSNs(c.History.Sinks)
		if err != nil {
			return nil, fmt.Errorf("history sinks: %w", err)
		}
		s.sinks = sinks
		opts = append(opts, WithHistory(sinks))
	}
	if c.Metrics.PeerUsage.Enabled {
		s.usage = metrics.NewPeerUsageCollector(c.Metrics.PeerUsage)
		opts = append(opts, WithPeerUsage(s.usage))
	}
	ctrl, err := New(c.Watchdog, opts...)
	if err != nil {
		_ = s.sinks.Close()
		return nil, err
	}
	s.controller = ctrl
	return s, nil
}

// Controller returns the wrapped watchdog.
func (s *Service) Controller() *Controller { return s.controller }

// Start registers metrics, opens the configured listeners and starts the
// watchdog loop.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if err := s.usage.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register peer usage metrics: %w", err)
		}
		s.metrics = newMetricsServer(s.cfg.Metrics.Listen)
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server failed", "listen", s.cfg.Metrics.Listen, "error", err)
			}
		}()
		s.logger.Info("Metrics server listening", "listen", s.cfg.Metrics.Listen)
	}
	if s.cfg.Server.Enabled {
		var ropts []iapi.RouterOption
		if s.usage.Enabled() {
			ropts = append(ropts, iapi.WithPeerUsage(s.usage))
		}
		tlsCfg, err := pwtls.Setup(s.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("status server tls: %w", err)
		}
		var api *http.Server
		if tlsCfg != nil {
			api, err = iapi.NewTLSServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.controller, tlsCfg, ropts...)
		} else {
			api, err = iapi.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.controller, ropts...)
		}
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		s.api = api
		s.logger.Info("Status API listening", "listen", s.cfg.Server.Listen, "base", s.cfg.Server.BasePath, "tls", tlsCfg != nil)
	}
	return s.controller.Start(ctx)
}

// Stop stops the watchdog, waits for its loop, then shuts down the
// listeners and closes the history sinks.
func (s *Service) Stop(ctx context.Context) error {
	s.controller.Stop()
	select {
	case <-s.controller.Done():
	case <-ctx.Done():
	}
	var errs []error
	for _, srv := range []*http.Server{s.api, s.metrics} {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.sinks.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	return errors.Join(errs...)
}
