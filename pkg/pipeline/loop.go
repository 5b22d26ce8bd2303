package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/livesub/pkg/clock"
	"github.com/harunnryd/livesub/pkg/logging"
)

// ErrLoopClosed is returned by Call once the loop has stopped.
var ErrLoopClosed = errors.New("pipeline: loop closed")

// Loop is the single owner of all mutable subtitle state. Producers never
// touch that state directly; they Post closures that run one at a time on
// the loop goroutine.
type Loop struct {
	inbox    chan func()
	done     chan struct{}
	clk      clock.Clock
	log      *slog.Logger
	running  atomic.Bool
	stopOnce sync.Once

	// owner-only
	deferred  []func()
	afterEach []func()
}

func NewLoop(clk clock.Clock, buffer int, log *slog.Logger) *Loop {
	if clk == nil {
		clk = clock.Real{}
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{
		inbox: make(chan func(), buffer),
		done:  make(chan struct{}),
		clk:   clk,
		log:   logging.NewComponentLogger(log, "loop"),
	}
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock { return l.clk }

// Now returns the current time of the loop's clock.
func (l *Loop) Now() time.Time { return l.clk.Now() }

// Run processes messages until ctx is cancelled. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: loop already running")
	}
	defer l.close()
	l.log.Debug("loop_started")
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("loop_stopped")
			return ctx.Err()
		case fn := <-l.inbox:
			l.step(fn)
		}
	}
}

// Drain runs every queued message on the calling goroutine and returns how
// many ran. Only for loops that are not running, typically in tests.
func (l *Loop) Drain() int {
	n := 0
	for {
		select {
		case fn := <-l.inbox:
			l.step(fn)
			n++
		default:
			return n
		}
	}
}

// Post queues fn for the loop. It reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for its result.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !l.Post(func() { res <- fn() }) {
		return ErrLoopClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// Defer queues fn to run on the loop right after the current message,
// before any other posted message. Must be called from the loop.
func (l *Loop) Defer(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// AfterEach registers a hook run after every message. Must be called before
// Run or from the loop.
func (l *Loop) AfterEach(fn func()) {
	l.afterEach = append(l.afterEach, fn)
}

// AfterFunc schedules fn to run on the loop after d. Stopping the returned
// timer from the loop guarantees fn will not run, even if the underlying
// timer already fired and its message is queued.
func (l *Loop) AfterFunc(d time.Duration, fn func()) clock.Timer {
	t := &loopTimer{}
	inner := l.clk.AfterFunc(d, func() {
		l.Post(func() {
			if !t.stopped.CompareAndSwap(false, true) {
				return
			}
			fn()
		})
	})
	t.mu.Lock()
	t.inner = inner
	t.mu.Unlock()
	return t
}

// Every runs fn on the loop every d until the returned timer is stopped.
func (l *Loop) Every(d time.Duration, fn func()) clock.Timer {
	t := &loopTimer{}
	var schedule func()
	schedule = func() {
		inner := l.clk.AfterFunc(d, func() {
			l.Post(func() {
				if t.stopped.Load() {
					return
				}
				fn()
				if !t.stopped.Load() {
					schedule()
				}
			})
		})
		t.mu.Lock()
		t.inner = inner
		t.mu.Unlock()
	}
	schedule()
	return t
}

func (l *Loop) step(fn func()) {
	fn()
	for len(l.deferred) > 0 {
		next := l.deferred[0]
		l.deferred = l.deferred[1:]
		next()
	}
	for _, hook := range l.afterEach {
		hook()
	}
}

func (l *Loop) close() {
	l.stopOnce.Do(func() { close(l.done) })
}

type loopTimer struct {
	mu      sync.Mutex
	inner   clock.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	t.mu.Lock()
	inner := t.inner
	t.mu.Unlock()
	if inner != nil {
		inner.Stop()
	}
	return true
}
