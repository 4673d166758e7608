// Package scheduler drives the periodic scrape cycle. One cycle runs
// immediately on initialisation, then every interval. At most one cycle is
// in flight process-wide; repeated cycle failures trip a breaker that
// stops the scheduler until it is reinitialised.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"

	"github.com/gleanerhq/gleaner/internal/logger"
)

const (
	// DefaultInterval is the gap between scrape cycles when none is
	// configured.
	DefaultInterval = 3 * time.Hour

	maxConsecutiveFailures = 3
)

var (
	// ErrAlreadyRunning reports that a scrape cycle is already in flight.
	ErrAlreadyRunning = errors.New("scrape already running")

	// ErrStopped reports that the scheduler is not initialized.
	ErrStopped = errors.New("scheduler stopped")
)

// State is the scheduler lifecycle position.
type State string

const (
	StateStopped      State = "stopped"
	StateInitialising State = "initialising"
	StateIdle         State = "idle"
	StateRunning      State = "running"
)

// Runner executes one full scrape pass across all sources.
type Runner interface {
	ScrapeAll(ctx context.Context) error
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	State               State     `json:"state"`
	Initialized         bool      `json:"initialized"`
	IsRunning           bool      `json:"is_running"`
	Degraded            bool      `json:"degraded"`
	LastRun             time.Time `json:"last_run"`
	NextRun             time.Time `json:"next_run"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	IntervalHours       float64   `json:"interval_hours"`
}

// Scheduler owns the cycle clock and the single-flight guard.
type Scheduler struct {
	runner   Runner
	interval time.Duration

	mu       sync.Mutex
	state    State
	cron     *cron.Cron
	entryID  cron.EntryID
	breaker  *gobreaker.CircuitBreaker
	running  bool
	cancel   context.CancelFunc
	lastRun  time.Time
	failures int
}

// New creates a stopped scheduler. A non-positive interval selects
// DefaultInterval.
func New(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		state:    StateStopped,
		breaker:  newBreaker(),
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scrape-all",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("scrape breaker state changed",
				"circuit", name, "from", from.String(), "to", to.String())
		},
	})
}

// Initialize arms the interval clock and kicks off the first cycle
// immediately. The scheduler must be stopped.
func (s *Scheduler) Initialize() error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already initialized (state %s)", s.state)
	}
	s.state = StateInitialising

	s.cron = cron.New(cron.WithLogger(cronLogger{}))
	schedule := fmt.Sprintf("@every %s", s.interval)
	id, err := s.cron.AddFunc(schedule, s.runScheduled)
	if err != nil {
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("arm schedule %q: %w", schedule, err)
	}
	s.entryID = id
	s.cron.Start()
	s.state = StateIdle
	s.mu.Unlock()

	logger.Info("scheduler initialized", "interval", s.interval.String())

	// First cycle runs now, off the cron clock.
	go s.runScheduled()
	return nil
}

// Stop halts the clock and cancels any in-flight cycle. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	logger.Info("stopping scheduler")
	s.stopLocked()
}

// Reinitialize restarts a stopped or degraded scheduler with a fresh
// failure budget.
func (s *Scheduler) Reinitialize() error {
	s.Stop()
	s.mu.Lock()
	s.breaker = newBreaker()
	s.failures = 0
	s.mu.Unlock()
	logger.Info("scheduler reinitializing")
	return s.Initialize()
}

// RunNow triggers an off-schedule cycle. It returns ErrAlreadyRunning when
// a cycle is in flight and ErrStopped when the scheduler is down.
func (s *Scheduler) RunNow() error {
	ctx, err := s.begin()
	if err != nil {
		return err
	}
	go s.execute(ctx)
	return nil
}

// Status reports the current snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:               s.state,
		Initialized:         s.state != StateStopped,
		IsRunning:           s.running,
		Degraded:            s.state == StateStopped && s.failures >= maxConsecutiveFailures,
		LastRun:             s.lastRun,
		ConsecutiveFailures: s.failures,
		IntervalHours:       s.interval.Hours(),
	}
	if s.cron != nil && s.state != StateStopped {
		st.NextRun = s.cron.Entry(s.entryID).Next
	}
	return st
}

func (s *Scheduler) runScheduled() {
	ctx, err := s.begin()
	if err != nil {
		logger.Warn("scrape cycle skipped", "reason", err)
		return
	}
	s.execute(ctx)
}

// begin performs the guarded Idle → Running transition and hands back the
// cycle context.
func (s *Scheduler) begin() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateStopped:
		return nil, ErrStopped
	case s.running:
		return nil, ErrAlreadyRunning
	}

	s.running = true
	s.state = StateRunning
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return ctx, nil
}

func (s *Scheduler) execute(ctx context.Context) {
	start := time.Now()
	logger.Info("scrape cycle starting")

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.runner.ScrapeAll(ctx)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.lastRun = time.Now()

	if err != nil {
		s.failures++
		logger.Error("scrape cycle failed",
			"error", err, "consecutive_failures", s.failures, "duration", time.Since(start).String())
	} else {
		s.failures = 0
		logger.Info("scrape cycle finished", "duration", time.Since(start).String())
	}

	// Stop() may have won the race while the cycle was draining.
	if s.state == StateStopped {
		return
	}
	if s.breaker.State() == gobreaker.StateOpen {
		logger.Error("too many consecutive scrape failures, stopping scheduler", "failures", s.failures)
		s.stopLocked()
		return
	}
	s.state = StateIdle
}

// stopLocked requires s.mu held.
func (s *Scheduler) stopLocked() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
	s.state = StateStopped
}

// cronLogger adapts the cron library's logging to ours. Cron chatter is
// debug-level noise except for real errors.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
