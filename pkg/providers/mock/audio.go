package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/livesub/pkg/adapters/audio"
	"github.com/harunnryd/livesub/pkg/frames"
)

type AudioConfig struct {
	// Frames is how many buffers to deliver; zero delivers until stopped.
	Frames int
	// Interval between buffers; zero delivers as fast as the channel allows.
	Interval   time.Duration
	FrameBytes int
	SampleRate int
	// StartErr is returned by StartCapture.
	StartErr error
}

// AudioSource produces silent 16-bit PCM buffers.
type AudioSource struct {
	cfg AudioConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	starts  int
	stops   int
	running bool
}

func NewAudioSource(cfg AudioConfig) *AudioSource {
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = 320
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &AudioSource{cfg: cfg}
}

func (s *AudioSource) Name() string { return "mock_audio" }

func (s *AudioSource) StartCapture(ctx context.Context) (<-chan frames.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.cfg.StartErr != nil {
		return nil, s.cfg.StartErr
	}
	cctx, cancel := context.WithCancel(ctx)
	out := make(chan frames.AudioFrame, 64)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	go s.produce(cctx, out, done)
	return out, nil
}

func (s *AudioSource) StopCapture(ctx context.Context) error {
	s.mu.Lock()
	s.stops++
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.running = false
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counts reports how often capture was started and stopped.
func (s *AudioSource) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func (s *AudioSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *AudioSource) produce(ctx context.Context, out chan<- frames.AudioFrame, done chan struct{}) {
	defer close(done)
	defer close(out)
	payload := make([]byte, s.cfg.FrameBytes)
	var pts time.Duration
	for i := 0; s.cfg.Frames <= 0 || i < s.cfg.Frames; i++ {
		if s.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Interval):
			}
		}
		f := frames.NewAudioFrame("mock", pts, payload, s.cfg.SampleRate, 1,
			map[string]string{frames.MetaSource: "mock", frames.MetaCodec: frames.CodecLinear16})
		pts += f.Duration()
		select {
		case <-ctx.Done():
			return
		case out <- f:
		}
	}
}

var _ audio.Source = (*AudioSource)(nil)
