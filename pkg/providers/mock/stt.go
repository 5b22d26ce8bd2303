package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/harunnryd/livesub/pkg/adapters/stt"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/frames"
)

type STTConfig struct {
	// Phrases are spoken one per session, in order, cycling.
	Phrases []string
	// FramesPerWord reveals one more word of the phrase every N frames.
	// Zero disables scripted output; tests then drive sessions with Emit.
	FramesPerWord int
	// Locales limits IsAvailable; empty means every locale.
	Locales []string
	AuthErr error
}

// Recognizer hands out scripted engines and remembers every engine and
// session it created.
type Recognizer struct {
	cfg STTConfig

	mu          sync.Mutex
	engines     []*Engine
	sessions    []*Session
	failCreates int
	factoryErr  error
	phrase      int
}

func NewRecognizer(cfg STTConfig) *Recognizer {
	return &Recognizer{cfg: cfg}
}

// Factory satisfies stt.EngineFactory.
func (r *Recognizer) Factory(locale string) (stt.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factoryErr != nil {
		return nil, r.factoryErr
	}
	e := &Engine{r: r, locale: locale}
	r.engines = append(r.engines, e)
	return e, nil
}

// FailCreates makes the next n CreateSession calls fail.
func (r *Recognizer) FailCreates(n int) {
	r.mu.Lock()
	r.failCreates = n
	r.mu.Unlock()
}

// FailFactory makes the factory return err until called again with nil.
func (r *Recognizer) FailFactory(err error) {
	r.mu.Lock()
	r.factoryErr = err
	r.mu.Unlock()
}

func (r *Recognizer) Engines() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Engine(nil), r.engines...)
}

func (r *Recognizer) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session(nil), r.sessions...)
}

// Latest returns the most recently created session, or nil.
func (r *Recognizer) Latest() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

func (r *Recognizer) nextPhrase() string {
	if len(r.cfg.Phrases) == 0 {
		return ""
	}
	p := r.cfg.Phrases[r.phrase%len(r.cfg.Phrases)]
	r.phrase++
	return p
}

type Engine struct {
	r      *Recognizer
	locale string
}

func (e *Engine) Name() string   { return "mock_stt" }
func (e *Engine) Locale() string { return e.locale }

func (e *Engine) Authorize(ctx context.Context) error {
	if e.r.cfg.AuthErr != nil {
		return e.r.cfg.AuthErr
	}
	return ctx.Err()
}

func (e *Engine) IsAvailable(locale string) bool {
	if len(e.r.cfg.Locales) == 0 {
		return true
	}
	for _, l := range e.r.cfg.Locales {
		if strings.EqualFold(l, locale) {
			return true
		}
	}
	return false
}

func (e *Engine) CreateSession(ctx context.Context, opts stt.SessionOptions) (stt.Session, error) {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	if e.r.failCreates > 0 {
		e.r.failCreates--
		return nil, errors.New("mock: session create failed")
	}
	s := &Session{
		opts:   opts,
		engine: e,
		out:    make(chan stt.Result, 256),
		words:  strings.Fields(e.r.nextPhrase()),
		every:  e.r.cfg.FramesPerWord,
	}
	e.r.sessions = append(e.r.sessions, s)
	return s, nil
}

// Session is a scripted recognition session.
type Session struct {
	opts   stt.SessionOptions
	engine *Engine

	mu        sync.Mutex
	out       chan stt.Result
	closed    bool
	frames    int
	words     []string
	every     int
	revealed  int
	cancelled bool
}

func (s *Session) Append(frame frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.ErrTransport
	}
	s.frames++
	if s.every <= 0 || len(s.words) == 0 || s.frames%s.every != 0 {
		return nil
	}
	if s.revealed < len(s.words) {
		s.revealed++
		s.sendLocked(stt.Result{
			Text:    strings.Join(s.words[:s.revealed], " "),
			IsFinal: s.revealed == len(s.words),
		})
	}
	return nil
}

func (s *Session) Results() <-chan stt.Result { return s.out }

func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.closeLocked()
}

// Emit delivers r as if the recognizer produced it. It reports false once
// the session is closed.
func (s *Session) Emit(r stt.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(r)
}

// Hangup closes the result stream without a final result, as a remote
// engine dropping the connection would.
func (s *Session) Hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) Options() stt.SessionOptions { return s.opts }
func (s *Session) Engine() *Engine             { return s.engine }

func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Session) sendLocked(r stt.Result) bool {
	if s.closed {
		return false
	}
	select {
	case s.out <- r:
		return true
	default:
		return false
	}
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

var _ stt.Session = (*Session)(nil)
var _ stt.Engine = (*Engine)(nil)
