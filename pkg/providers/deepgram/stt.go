package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/harunnryd/livesub/pkg/adapters/stt"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/frames"
	"github.com/harunnryd/livesub/pkg/logging"
	"github.com/harunnryd/livesub/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Encoding       string `mapstructure:"encoding"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Channels       int    `mapstructure:"channels"`
	SmartFormat    bool   `mapstructure:"smart_format"`
	EndpointingMS  int    `mapstructure:"endpointing_ms"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

// languageCodes maps recognizer locales to Deepgram language codes.
var languageCodes = map[string]string{
	"en-US": "en-US",
	"zh-CN": "zh-CN",
	"ja-JP": "ja",
	"ko-KR": "ko-KR",
}

// Engine is a live Deepgram recognizer for one locale.
type Engine struct {
	cfg    Config
	locale string
	logger *slog.Logger
}

func NewEngine(cfg Config, locale string, log *slog.Logger) *Engine {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Engine{
		cfg:    cfg,
		locale: locale,
		logger: logging.NewComponentLogger(log, "deepgram_stt"),
	}
}

// NewFactory returns an engine factory bound to cfg.
func NewFactory(cfg Config, log *slog.Logger) stt.EngineFactory {
	return func(locale string) (stt.Engine, error) {
		if _, ok := languageCodes[locale]; !ok {
			return nil, fmt.Errorf("%w: deepgram has no model for %s", errorsx.ErrEngineUnavailable, locale)
		}
		return NewEngine(cfg, locale, log), nil
	}
}

func (e *Engine) Name() string { return "deepgram_streaming" }

func (e *Engine) Authorize(ctx context.Context) error {
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return fmt.Errorf("%w: deepgram api key is empty", errorsx.ErrAuthorization)
	}
	return ctx.Err()
}

func (e *Engine) IsAvailable(locale string) bool {
	_, ok := languageCodes[locale]
	return ok && locale == e.locale
}

func (e *Engine) CreateSession(ctx context.Context, opts stt.SessionOptions) (stt.Session, error) {
	if opts.OnDevice {
		e.logger.Debug("on_device_unsupported", slog.String("locale", opts.Locale))
	}
	rate := e.cfg.SampleRate
	if opts.SampleRate > 0 && e.cfg.Encoding == "linear16" {
		rate = opts.SampleRate
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          e.cfg.Model,
		Language:       languageCodes[opts.Locale],
		Encoding:       e.cfg.Encoding,
		SampleRate:     rate,
		Channels:       e.cfg.Channels,
		InterimResults: opts.PartialResults,
		SmartFormat:    e.cfg.SmartFormat,
		Punctuate:      true,
		VadEvents:      e.cfg.UtteranceEndMS > 0,
	}
	if e.cfg.EndpointingMS > 0 {
		transcriptOptions.Endpointing = strconv.Itoa(e.cfg.EndpointingMS)
	}
	if e.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = strconv.Itoa(e.cfg.UtteranceEndMS)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := newSession(sctx, cancel, e.logger.With(slog.String("locale", opts.Locale)))

	e.logger.Info("deepgram_connecting",
		slog.String("model", e.cfg.Model),
		slog.String("language", transcriptOptions.Language),
		slog.Int("sample_rate", rate))

	dgClient, err := client.NewWSUsingCallback(sctx, e.cfg.APIKey, &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}, transcriptOptions, &callback{s: s})
	if err != nil {
		s.Cancel()
		return nil, fmt.Errorf("%w: deepgram client: %v", errorsx.ErrTransport, err)
	}
	if connected := dgClient.Connect(); !connected {
		s.Cancel()
		return nil, fmt.Errorf("%w: deepgram connection failed", errorsx.ErrTransport)
	}
	s.mu.Lock()
	s.dg = dgClient
	s.mu.Unlock()
	e.logger.Info("deepgram_connected", slog.String("language", transcriptOptions.Language))

	go func() {
		if err := dgClient.Stream(s.pr); err != nil && sctx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.emit(stt.Result{Text: s.asm.text(), Err: fmt.Errorf("%w: %v", errorsx.ErrTransport, err)})
		}
	}()
	return s, nil
}

// sendBuffer is how many audio chunks may wait for the websocket writer.
const sendBuffer = 64

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	dg     *client.WSCallback
	pr     *io.PipeReader
	pw     *io.PipeWriter
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	out    chan stt.Result
	closed bool
	asm    assembler
	once   sync.Once
}

func newSession(ctx context.Context, cancel context.CancelFunc, log *slog.Logger) *session {
	s := &session{
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		out:    make(chan stt.Result, 256),
		logger: log,
	}
	s.pr, s.pw = io.Pipe()
	go s.writeLoop()
	return s
}

// writeLoop feeds queued audio into the pipe the Deepgram client streams
// from. It is the only writer of pw.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.send:
			if _, err := s.pw.Write(chunk); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("deepgram_write_failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Append queues a copy of the frame payload and never blocks; a full queue
// is reported as a send error so the caller can count the drop.
func (s *session) Append(frame frames.AudioFrame) error {
	if s.ctx.Err() != nil {
		return errorsx.Newf(errorsx.ErrTransport, errorsx.ReasonSTTSend, "session closed")
	}
	chunk := append([]byte(nil), frame.RawPayload()...)
	select {
	case s.send <- chunk:
		return nil
	default:
		return errorsx.Newf(errorsx.ErrTransport, errorsx.ReasonSTTSend, "send buffer full")
	}
}

func (s *session) Results() <-chan stt.Result { return s.out }

func (s *session) Cancel() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pw.Close()
		s.mu.Lock()
		dg := s.dg
		s.mu.Unlock()
		if dg != nil {
			dg.Stop()
		}
		s.finish()
	})
}

func (s *session) emit(r stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- r:
	default:
		s.logger.Warn("deepgram_out_channel_full")
	}
}

func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// assembler turns Deepgram's per-segment transcripts into the cumulative
// hypothesis of the whole utterance.
type assembler struct {
	mu        sync.Mutex
	finalized []string
	interim   string
	last      string
}

// apply folds one transcript message in and returns the result to publish.
func (a *assembler) apply(transcript string, isFinal, speechFinal bool) (stt.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	transcript = strings.TrimSpace(transcript)
	if isFinal {
		if transcript != "" {
			a.finalized = append(a.finalized, transcript)
		}
		a.interim = ""
	} else {
		a.interim = transcript
	}
	text := a.textLocked()
	if speechFinal {
		if text == "" {
			return stt.Result{}, false
		}
		a.last = text
		return stt.Result{Text: text, IsFinal: true}, true
	}
	if text == a.last {
		return stt.Result{}, false
	}
	a.last = text
	return stt.Result{Text: text}, true
}

// utteranceEnd publishes a final for finalized text not yet closed by a
// speech_final message.
func (a *assembler) utteranceEnd() (stt.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.textLocked()
	if text == "" {
		return stt.Result{}, false
	}
	return stt.Result{Text: text, IsFinal: true}, true
}

func (a *assembler) text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.textLocked()
}

func (a *assembler) textLocked() string {
	parts := append([]string(nil), a.finalized...)
	if a.interim != "" {
		parts = append(parts, a.interim)
	}
	return strings.Join(parts, " ")
}

// --- Callback Implementation ---

type callback struct {
	s *session
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.s.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	res, ok := c.s.asm.apply(mr.Channel.Alternatives[0].Transcript, mr.IsFinal, mr.SpeechFinal)
	if !ok {
		return nil
	}
	c.s.logger.Debug("transcript_received",
		slog.String("transcript", redact.Transcript(res.Text)),
		slog.Bool("is_final", res.IsFinal))
	c.s.emit(res)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.s.logger.Debug("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	if res, ok := c.s.asm.utteranceEnd(); ok {
		c.s.logger.Debug("utterance_end_final")
		c.s.emit(res)
	}
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.s.logger.Info("deepgram_connection_closed")
	c.s.finish()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.s.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.s.emit(stt.Result{
		Text: c.s.asm.text(),
		Err:  fmt.Errorf("%w: deepgram %s: %s", errorsx.ErrTransport, er.ErrCode, er.ErrMsg),
	})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.s.logger.Debug("deepgram_unhandled_event", slog.Int("bytes", len(byData)))
	return nil
}

var _ stt.Engine = (*Engine)(nil)
var _ stt.Session = (*session)(nil)
var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
