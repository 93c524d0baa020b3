// Package watchdog runs one half of a mutually supervising process pair:
// it watches the peer recorded in the shared coordination record and
// restores, relaunches and re-records it when it disappears.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/pairwatch/internal/env"
	"github.com/loykin/pairwatch/internal/history"
	"github.com/loykin/pairwatch/internal/metrics"
	"github.com/loykin/pairwatch/internal/process"
	"github.com/loykin/pairwatch/internal/record"
	"github.com/loykin/pairwatch/internal/redeploy"
)

var (
	ErrAlreadyStarted = errors.New("watchdog already started")
	ErrNotRestartable = errors.New("watchdog stopped; create a new one")
)

// Controller owns the supervision loop of one watchdog.
//
// Lock order: lifeMu before cycleMu. lifeMu guards lifecycle transitions,
// cycleMu serializes check cycles between the loop and on-demand callers.
type Controller struct {
	cfg    Config
	ownPID int

	store      RecordStore
	prober     Prober
	redeployer Redeployer
	launcher   Launcher
	sinks      []history.Sink
	usage      *metrics.PeerUsageCollector
	logger     *slog.Logger

	state   atomic.Int32
	peerPID atomic.Int64

	lifeMu   sync.Mutex
	cycleMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	statsMu     sync.Mutex
	restarts    int
	lastRestart time.Time
	lastCheck   time.Time
	lastError   string
}

// Option customizes a Controller at construction.
type Option func(*Controller)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecordStore(s RecordStore) Option { return func(c *Controller) { c.store = s } }
func WithProber(p Prober) Option           { return func(c *Controller) { c.prober = p } }
func WithRedeployer(r Redeployer) Option   { return func(c *Controller) { c.redeployer = r } }
func WithLauncher(l Launcher) Option       { return func(c *Controller) { c.launcher = l } }

// WithHistory adds sinks receiving restart and redeploy events.
func WithHistory(sinks ...history.Sink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, sinks...) }
}

// WithPeerUsage samples the peer's CPU and memory on every check that finds it alive.
func WithPeerUsage(u *metrics.PeerUsageCollector) Option {
	return func(c *Controller) { c.usage = u }
}

// WithOwnPID overrides the id this watchdog writes into its own slot.
func WithOwnPID(pid int) Option { return func(c *Controller) { c.ownPID = pid } }

// New validates cfg and builds a Controller. It performs no I/O.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:    cfg,
		ownPID: os.Getpid(),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("watchdog", cfg.Name)
	if c.store == nil {
		c.store = record.NewStore(cfg.RecordPath)
	}
	if c.prober == nil {
		c.prober = PIDProber{ExpectExe: cfg.ExpectExe, Fallback: cfg.Detectors}
	}
	if c.redeployer == nil {
		c.redeployer = RedeployFunc(redeploy.EnsurePresent)
	}
	if c.launcher == nil {
		l := process.NewLauncher(cfg.Launch, c.logger)
		if cfg.CleanEnv {
			l.Env = env.Isolated()
		}
		c.launcher = l
	}
	c.peerPID.Store(record.NoPID)
	c.state.Store(int32(StateInitializing))
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Name returns the watchdog label.
func (c *Controller) Name() string { return c.cfg.Name }

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed once the controller reached Stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the controller reached Stopped.
func (c *Controller) Wait() { <-c.done }

// Start launches the supervision loop. Cancelling ctx has the same effect
// as Stop. A Controller runs at most once.
func (c *Controller) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	switch c.State() {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopping, StateStopped:
		return ErrNotRestartable
	}
	c.setState(StateRunning)
	c.logger.Info("Watchdog started",
		"own_pid", c.ownPID, "own_slot", c.cfg.OwnSlot,
		"peer_slot", c.cfg.Target.Slot, "target", c.cfg.Target.Path,
		"record", c.cfg.RecordPath, "interval", c.cfg.Interval)
	go c.run(ctx)
	return nil
}

// Stop asks the loop to exit after the cycle in flight. It does not wait;
// use Wait or Done for that. Stop is idempotent.
func (c *Controller) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	switch c.State() {
	case StateInitializing:
		c.setState(StateStopped)
		close(c.done)
	case StateRunning:
		c.setState(StateStopping)
		c.stopOnce.Do(func() { close(c.stopCh) })
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.finish()

	if !c.cfg.DisableAnnounce {
		c.announce()
	}
	if !c.sleep(ctx, c.cfg.GraceDelay) {
		return
	}
	for {
		if c.State() != StateRunning {
			return
		}
		c.cycleMu.Lock()
		// the cycle in flight completes even if ctx is cancelled meanwhile
		c.cycle(context.WithoutCancel(ctx))
		c.cycleMu.Unlock()
		if !c.sleep(ctx, c.cfg.Interval) {
			return
		}
	}
}

func (c *Controller) finish() {
	c.lifeMu.Lock()
	if c.State() == StateRunning {
		c.setState(StateStopping)
	}
	c.lifeMu.Unlock()

	c.cycleMu.Lock()
	c.setState(StateStopped)
	c.cycleMu.Unlock()
	c.logger.Info("Watchdog stopped")
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// announce writes our own id next to whatever the record holds for the
// peer, so the peer's next check finds us.
func (c *Controller) announce() {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	peer := record.NoPID
	pair, err := c.store.Read()
	switch {
	case err == nil:
		peer = pair[c.cfg.Target.Slot]
	case errors.Is(err, record.ErrNotFound):
	default:
		c.logger.Warn("Coordination record unreadable, announcing with unknown peer", "error", err)
		metrics.IncRecordError(c.cfg.Name, "read")
	}
	c.peerPID.Store(int64(peer))
	if err := c.store.WriteBoth(c.cfg.OwnSlot, c.ownPID, peer); err != nil {
		c.logger.Error("Failed to announce own id", "error", err)
		metrics.IncRecordError(c.cfg.Name, "write")
		c.setLastError(err)
		return
	}
	c.logger.Debug("Announced own id", "own_pid", c.ownPID, "peer_pid", peer)
}

// setState records the transition; callers serialize through lifeMu or cycleMu.
func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		metrics.RecordStateTransition(c.cfg.Name, old.String(), s.String())
	}
}

func (c *Controller) setLastError(err error) {
	c.statsMu.Lock()
	c.lastError = err.Error()
	c.statsMu.Unlock()
}

func (c *Controller) emit(ctx context.Context, t history.EventType, rec history.Record) {
	if len(c.sinks) == 0 {
		return
	}
	rec.Watchdog = c.cfg.Name
	rec.Slot = c.cfg.OwnSlot
	rec.OwnPID = c.ownPID
	rec.PeerPath = c.cfg.Target.Path
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	for _, s := range c.sinks {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.HistoryTimeout)
		if err := s.Send(sctx, evt); err != nil {
			c.logger.Warn("History sink failed", "event", string(t), "error", err)
		}
		cancel()
	}
}

func (c *Controller) String() string {
	return fmt.Sprintf("watchdog %s (slot %d -> %d)", c.cfg.Name, c.cfg.OwnSlot, c.cfg.Target.Slot)
}
