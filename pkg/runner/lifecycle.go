package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/livesub/pkg/logging"
)

var ErrInvalidState = errors.New("runner: invalid state transition")

type Options struct {
	Drainer Drainer
	Hooks   Hooks
	// Timeout bounds Drain; zero means 10s.
	Timeout time.Duration
	// Banner receives the startup banner; nil prints none.
	Banner io.Writer
	Logger *slog.Logger
}

// LifecycleRunner blocks until its context ends and then drains.
type LifecycleRunner struct {
	state    atomic.Int32
	opts     Options
	log      *slog.Logger
	mu       sync.Mutex
	cancel   context.CancelFunc
	onceStop sync.Once
	stopErr  error
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &LifecycleRunner{opts: opts, log: logging.NewComponentLogger(opts.Logger, "runner")}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return ErrInvalidState
	}
	if r.opts.Banner != nil {
		PrintBanner(r.opts.Banner)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.opts.Hooks.OnStart != nil {
		if err := r.opts.Hooks.OnStart(ctx); err != nil {
			cancel()
			_ = r.stop()
			return fmt.Errorf("start: %w", err)
		}
	}
	r.setState(StateRunning)
	r.log.Info("runner_started", "version", Version)
	<-ctx.Done()
	return r.stop()
}

// Stop ends Run and drains. Safe to call more than once.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.opts.Drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
			if err := r.opts.Drainer.Drain(ctx); err != nil {
				r.stopErr = fmt.Errorf("drain: %w", err)
				r.log.Warn("runner_drain_failed", "error", err)
			}
			cancel()
		}
		if r.opts.Hooks.OnStop != nil {
			r.opts.Hooks.OnStop()
		}
		r.setState(StateStopped)
		r.log.Info("runner_stopped")
	})
	return r.stopErr
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
