// Package capture moves audio buffers from a source to the recognizer.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/livesub/pkg/frames"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/metrics"
)

// Appender accepts audio for the current recognition session. It returns
// false when the frame was not taken, for example while a session restarts.
type Appender interface {
	Append(frame frames.AudioFrame) bool
}

type AppenderFunc func(frame frames.AudioFrame) bool

func (f AppenderFunc) Append(frame frames.AudioFrame) bool { return f(frame) }

// Stats summarizes one forwarding run.
type Stats struct {
	Received  int64
	Forwarded int64
	Dropped   int64
}

// Forwarder copies frames from a capture channel to an Appender as they
// arrive. Frames are never queued: a frame the appender refuses is dropped.
type Forwarder struct {
	dst Appender
	log *slog.Logger
	obs metrics.Observer

	received  atomic.Int64
	forwarded atomic.Int64
	dropped   atomic.Int64
}

func NewForwarder(dst Appender, log *slog.Logger, obs metrics.Observer) *Forwarder {
	return &Forwarder{
		dst: dst,
		log: logging.NewComponentLogger(log, "forwarder"),
		obs: metrics.OrNoop(obs),
	}
}

// Run forwards until in is closed or ctx is cancelled. No frame is forwarded
// once ctx is done.
func (f *Forwarder) Run(ctx context.Context, in <-chan frames.AudioFrame) Stats {
	for {
		select {
		case <-ctx.Done():
			f.log.Info("forwarder_cancelled", "frames", f.received.Load())
			return f.Stats()
		case frame, ok := <-in:
			if !ok {
				f.log.Info("forwarder_source_closed", "frames", f.received.Load())
				return f.Stats()
			}
			if ctx.Err() != nil {
				frames.ReleaseAudioFrame(frame)
				return f.Stats()
			}
			f.forward(frame)
		}
	}
}

func (f *Forwarder) forward(frame frames.AudioFrame) {
	n := f.received.Add(1)
	if n <= 3 || n%100 == 0 {
		f.log.Debug("audio_frame",
			"n", n,
			"bytes", frame.Len(),
			"rate", frame.Rate(),
			"channels", frame.Channels(),
		)
	}
	if f.dst.Append(frame) {
		f.forwarded.Add(1)
		metrics.Record(f.obs, metrics.EventAudioFrameForwarded, 1, nil)
	} else {
		f.dropped.Add(1)
		metrics.Record(f.obs, metrics.EventAudioFrameDropped, 1, nil)
	}
	frames.ReleaseAudioFrame(frame)
}

func (f *Forwarder) Stats() Stats {
	return Stats{
		Received:  f.received.Load(),
		Forwarded: f.forwarded.Load(),
		Dropped:   f.dropped.Load(),
	}
}

// Handle controls a forwarder running in the background.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	stats  Stats
}

// Start runs f in a new goroutine.
func Start(ctx context.Context, f *Forwarder, in <-chan frames.AudioFrame) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.stats = f.Run(ctx, in)
	}()
	return h
}

// Stop cancels forwarding. Frames still in the channel are not forwarded.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
}

// Done is closed when the forwarder has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stats is valid once Done is closed.
func (h *Handle) Stats() Stats {
	<-h.done
	return h.stats
}
