package segment

import (
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/livesub/pkg/clock"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/redact"
)

// DefaultPauseTimeout is how long live text may stay unchanged before it is
// committed without a sentence boundary.
const DefaultPauseTimeout = 3 * time.Second

type Config struct {
	PauseTimeout time.Duration
	ChunkBudget  int
}

// Trigger names why a commit happened.
type Trigger string

const (
	TriggerSentence Trigger = "sentence"
	TriggerPause    Trigger = "pause"
	TriggerFlush    Trigger = "flush"
)

// CommitFunc receives the non-empty chunks of one commit, in order.
type CommitFunc func(chunks []string, trigger Trigger)

// Segmenter tracks the unconsumed part of the recognizer text and decides
// when it becomes committed subtitle entries. It is not safe for concurrent
// use; the owner loop drives it, and the scheduler must run callbacks on
// that same loop.
type Segmenter struct {
	cfg    Config
	sched  clock.Scheduler
	commit CommitFunc
	log    *slog.Logger

	current  string
	consumed string
	live     string
	timer    clock.Timer
	gen      uint64
}

func New(cfg Config, sched clock.Scheduler, commit CommitFunc, log *slog.Logger) *Segmenter {
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = DefaultPauseTimeout
	}
	if cfg.ChunkBudget <= 0 {
		cfg.ChunkBudget = DefaultChunkBudget
	}
	if commit == nil {
		commit = func([]string, Trigger) {}
	}
	return &Segmenter{
		cfg:    cfg,
		sched:  sched,
		commit: commit,
		log:    logging.NewComponentLogger(log, "segmenter"),
	}
}

// Update feeds the recognizer's latest cumulative text. Empty text marks a
// session boundary: pending live text is flushed first.
func (s *Segmenter) Update(current string) {
	if current == "" {
		s.Flush()
		return
	}
	s.current = current
	s.live, s.consumed = Observe(current, s.consumed)
	s.extractSentences()
	s.resetPauseTimer()
}

// PauseElapsed commits whatever live text remains. A second call without new
// text in between commits nothing.
func (s *Segmenter) PauseElapsed() {
	if strings.TrimSpace(s.live) == "" {
		return
	}
	text := s.live
	s.live = ""
	s.consumed = s.current
	s.log.Debug("pause_commit", "text", redact.Transcript(text))
	s.emit(Chunk(text, s.cfg.ChunkBudget), TriggerPause)
}

// Flush commits all live text regardless of sentence completeness and clears
// tracker and timer state.
func (s *Segmenter) Flush() {
	text := s.live
	s.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	s.log.Debug("boundary_flush", "text", redact.Transcript(text))
	s.emit(Chunk(text, s.cfg.ChunkBudget), TriggerFlush)
}

// Reset clears tracker and timer state without committing.
func (s *Segmenter) Reset() {
	s.stopTimer()
	s.current = ""
	s.consumed = ""
	s.live = ""
}

func (s *Segmenter) Live() string     { return s.live }
func (s *Segmenter) Consumed() string { return s.consumed }
func (s *Segmenter) Current() string  { return s.current }

func (s *Segmenter) extractSentences() {
	if s.live == "" {
		return
	}
	complete, remaining, ok := splitComplete(s.live)
	if !ok {
		return
	}
	chunks := Chunk(complete, s.cfg.ChunkBudget)
	if len(chunks) == 0 {
		return
	}
	s.live = remaining
	switch idx := strings.LastIndex(s.current, remaining); {
	case remaining == "" || idx < 0:
		s.consumed = s.current
	default:
		s.consumed = s.current[:idx]
	}
	s.emit(chunks, TriggerSentence)
}

func (s *Segmenter) resetPauseTimer() {
	s.stopTimer()
	if s.sched == nil {
		return
	}
	gen := s.gen
	s.timer = s.sched.AfterFunc(s.cfg.PauseTimeout, func() {
		if gen != s.gen {
			return
		}
		s.timer = nil
		s.PauseElapsed()
	})
}

func (s *Segmenter) stopTimer() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Segmenter) emit(chunks []string, trigger Trigger) {
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return
	}
	s.commit(out, trigger)
}
