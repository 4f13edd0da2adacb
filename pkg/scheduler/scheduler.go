package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cirocosta/btc-exporter/pkg/metric"
)

// Cycler performs a collection cycle, producing a complete snapshot.
//
type Cycler interface {
	RunCycle(ctx context.Context) *metric.Snapshot
}

// Publisher makes a snapshot the one being served.
//
type Publisher interface {
	Publish(s *metric.Snapshot)
}

// Ticker delivers ticks on C() until stopped.
//
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// State is what the scheduler is doing at a given point in time.
//
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler triggers a collection cycle on every tick, publishing the result.
// At most one cycle is in flight: ticks that fire while a cycle is running are
// skipped, not queued.
//
type Scheduler struct {
	cycler    Cycler
	publisher Publisher
	interval  time.Duration

	newTicker func(time.Duration) Ticker
	log       logr.Logger

	skipped prometheus.Counter

	state atomic.Int32
	wg    sync.WaitGroup
}

type Option func(s *Scheduler)

// WithTicker overrides how tickers are created.
//
func WithTicker(v func(time.Duration) Ticker) Option {
	return func(s *Scheduler) {
		s.newTicker = v
	}
}

// WithLogger overrides the default logger.
//
func WithLogger(v logr.Logger) Option {
	return func(s *Scheduler) {
		s.log = v
	}
}

// New instantiates a scheduler that runs `cycler` every `interval`,
// publishing each snapshot through `publisher`.
//
func New(
	cycler Cycler, publisher Publisher, interval time.Duration, opts ...Option,
) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}

	defaultLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("zap new development: %w", err)
	}

	s := &Scheduler{
		cycler:    cycler,
		publisher: publisher,
		interval:  interval,
		newTicker: newTimeTicker,
		log:       zapr.NewLogger(defaultLogger.Named("scheduler")),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btc_exporter_scheduler_skipped_ticks_total",
			Help: "number of ticks skipped because a collection cycle " +
				"was still in flight",
		}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// SkippedTicks is the counter of ticks skipped due to a cycle still being in
// flight, to be registered with a prometheus registerer.
//
func (s *Scheduler) SkippedTicks() prometheus.Counter {
	return s.skipped
}

// State reports what the scheduler is currently doing.
//
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run triggers a first cycle right away and then one per tick until `ctx` is
// cancelled, at which point it waits for an in-flight cycle to finish and
// publish before returning.
//
// ps.: this is a BLOCKING method.
//
func (s *Scheduler) Run(ctx context.Context) error {
	if s.State() == StateStopped {
		return fmt.Errorf("scheduler already stopped")
	}

	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("starting", "interval", s.interval.String())

	s.trigger(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping")
			s.wg.Wait()
			s.state.Store(int32(StateStopped))

			return nil
		case <-ticker.C():
			s.trigger(ctx)
		}
	}
}

// trigger starts a cycle unless one is already in flight.
//
func (s *Scheduler) trigger(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		s.skipped.Inc()
		s.log.Info("cycle still in flight, skipping tick")

		return
	}

	// an in-flight cycle (bounded by the adapter timeouts) runs to
	// completion and gets published even after `ctx` is cancelled.
	cycleCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))

		snapshot := s.cycler.RunCycle(cycleCtx)
		if snapshot == nil {
			return
		}

		s.publisher.Publish(snapshot)
	}()
}
