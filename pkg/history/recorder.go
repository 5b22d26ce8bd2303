package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/livesub/pkg/clock"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/logging"
)

// Sink receives the entries of one capture session. Calls never block on
// storage.
type Sink interface {
	StartSession()
	RecordEntry(recognized, translated string)
	EndSession()
}

// Saver persists a finished session.
type Saver interface {
	Save(ctx context.Context, sess Session) error
}

// Recorder collects the current session in memory and hands finished
// sessions to a background writer.
type Recorder struct {
	saver  Saver
	clk    clock.Clock
	logger *slog.Logger
	locale func() string

	mu      sync.Mutex
	current *Session
	closed  bool

	queue chan Session
	done  chan struct{}
}

type RecorderOptions struct {
	Saver  Saver
	Clock  clock.Clock
	Logger *slog.Logger
	// Locale reports the recognizer locale stamped on new sessions.
	Locale func() string
	Buffer int
}

func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 4
	}
	r := &Recorder{
		saver:  opts.Saver,
		clk:    opts.Clock,
		logger: logging.NewComponentLogger(opts.Logger, "history"),
		locale: opts.Locale,
		queue:  make(chan Session, opts.Buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// StartSession begins a new session, discarding an unfinished one.
func (r *Recorder) StartSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	sess := &Session{ID: uuid.New(), StartedAt: r.clk.Now()}
	if r.locale != nil {
		sess.Locale = r.locale()
	}
	r.current = sess
	r.logger.Info("session_started", slog.String("session_id", sess.ID.String()))
}

// RecordEntry appends to the current session; ignored when none is open.
func (r *Recorder) RecordEntry(recognized, translated string) {
	if strings.TrimSpace(recognized) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.current.Entries = append(r.current.Entries, Entry{
		ID:         uuid.New(),
		RecordedAt: r.clk.Now(),
		Recognized: recognized,
		Translated: translated,
	})
}

// EndSession closes the current session and queues it for persistence.
func (r *Recorder) EndSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.current
	r.current = nil
	if sess == nil || r.closed {
		return
	}
	sess.EndedAt = r.clk.Now()
	sess.EntryCount = len(sess.Entries)
	select {
	case r.queue <- *sess:
	default:
		r.logger.Warn("history_write_dropped",
			slog.String("session_id", sess.ID.String()),
			slog.String("reason", string(errorsx.ReasonHistoryWrite)))
	}
}

// Recording reports whether a session is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Close ends any open session, waits for pending writes and stops the
// writer.
func (r *Recorder) Close() {
	r.EndSession()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for sess := range r.queue {
		if r.saver == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.saver.Save(ctx, sess)
		cancel()
		if err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonHistoryWrite)
			r.logger.Error("history_write_failed",
				slog.String("session_id", sess.ID.String()),
				slog.String("reason", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
			continue
		}
		r.logger.Info("session_saved",
			slog.String("session_id", sess.ID.String()),
			slog.Int("entries", len(sess.Entries)))
	}
}

var _ Sink = (*Recorder)(nil)
