// Package twilio captures call audio from Twilio Media Streams.
package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/livesub/pkg/adapters/audio"
	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/frames"
	"github.com/harunnryd/livesub/pkg/logging"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// HangupOnStop completes active calls when capture stops.
	HangupOnStop bool `mapstructure:"hangup_on_stop"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Twilio Media Streams deliver 8kHz mono mu-law.
const (
	SampleRate = 8000
	Channels   = 1
)

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// Source is an audio.Source fed by inbound call media streams. It serves
// the voice webhook, the media websocket and the status callback.
type Source struct {
	cfg      Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	logger   *slog.Logger
	pts      *frames.PTSGen

	updateClient callUpdater

	mu        sync.Mutex
	server    *http.Server
	out       chan frames.AudioFrame
	capturing bool
	streams   map[string]*stream
	calls     map[string]string
}

type stream struct {
	id      string
	callSID string
	conn    *websocket.Conn
	frames  int
}

func New(cfg Config, log *slog.Logger) *Source {
	cfg = cfg.withDefaults()
	s := &Source{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:  logging.NewComponentLogger(log, "twilio_source"),
		pts:     frames.NewPTSGen(),
		streams: make(map[string]*stream),
		calls:   make(map[string]string),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.VoicePath, s.handleVoice)
	mux.HandleFunc(cfg.WebsocketPath, s.handleStream)
	mux.HandleFunc(cfg.StatusCallbackPath, s.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux = mux
	return s
}

func (s *Source) Name() string { return "twilio" }

// Handler exposes the webhook and media routes.
func (s *Source) Handler() http.Handler { return s.mux }

func (s *Source) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         s.publicURL("https", s.cfg.VoicePath),
		"status_callback_url": s.publicURL("https", s.cfg.StatusCallbackPath),
	}
}

// StartCapture binds the HTTP server and returns the channel that receives
// audio of every connected call. A bind failure wraps errorsx.ErrSetup.
func (s *Source) StartCapture(ctx context.Context) (<-chan frames.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		return nil, errorsx.Newf(errorsx.ErrSetup, errorsx.ReasonAudioSetup, "twilio capture already running")
	}
	ln, err := net.Listen("tcp", s.cfg.ServerAddr)
	if err != nil {
		return nil, errorsx.Newf(errorsx.ErrSetup, errorsx.ReasonAudioSetup, "listen %s: %v", s.cfg.ServerAddr, err)
	}
	out := s.openLocked()
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("twilio_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("twilio_capture_started",
		slog.String("addr", ln.Addr().String()),
		slog.String("webhook_url", s.publicURL("https", s.cfg.VoicePath)))
	return out, nil
}

// Attach starts capture without binding a listener, for callers that mount
// Handler on their own server.
func (s *Source) Attach() (<-chan frames.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		return nil, errorsx.Newf(errorsx.ErrSetup, errorsx.ReasonAudioSetup, "twilio capture already running")
	}
	return s.openLocked(), nil
}

func (s *Source) openLocked() chan frames.AudioFrame {
	s.out = make(chan frames.AudioFrame, 512)
	s.capturing = true
	return s.out
}

// StopCapture closes every media stream, optionally completes the calls,
// shuts the server down and closes the frame channel.
func (s *Source) StopCapture(ctx context.Context) error {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return nil
	}
	s.capturing = false
	srv := s.server
	s.server = nil
	streams := s.streams
	s.streams = make(map[string]*stream)
	s.calls = make(map[string]string)
	close(s.out)
	s.mu.Unlock()

	var errs []error
	for _, st := range streams {
		_ = st.conn.Close()
		if s.cfg.HangupOnStop && st.callSID != "" {
			if err := s.Hangup(ctx, st.callSID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	s.logger.Info("twilio_capture_stopped", slog.Int("streams", len(streams)))
	return errors.Join(errs...)
}

// Hangup completes a call through the REST API.
func (s *Source) Hangup(ctx context.Context, callSID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(callSID) == "" {
		return errors.New("call sid required")
	}
	updater := s.updateClient
	if updater == nil {
		if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
			return errors.New("missing twilio credentials")
		}
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.cfg.AccountSID,
			Password: s.cfg.AuthToken,
		})
		updater = rest.Api
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := updater.UpdateCall(callSID, params); err != nil {
		return errorsx.Newf(errorsx.ErrTransport, errorsx.ReasonTransportSend, "hangup %s: %v", callSID, err)
	}
	s.logger.Info("twilio_call_completed", slog.String("call_sid", callSID))
	return nil
}

func (s *Source) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.isCapturing() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var streamID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			streamID = evt.Start.StreamID
			if old := s.attach(streamID, evt.Start.CallSID, conn); old != nil {
				_ = old.conn.Close()
			}
			s.logger.Info("twilio_stream_started",
				slog.String("stream_id", streamID),
				slog.String("call_sid", evt.Start.CallSID))
		case "media":
			if evt.Media == nil || streamID == "" {
				continue
			}
			buf := frames.AcquireAudioBuf(base64.StdEncoding.DecodedLen(len(evt.Media.Payload)))
			n, err := base64.StdEncoding.Decode(buf, []byte(evt.Media.Payload))
			if err != nil {
				frames.ReleaseAudioBuf(buf)
				continue
			}
			s.deliver(streamID, buf[:n])
		case "stop":
			reason := "completed"
			if evt.Stop != nil && normalizeCallEndReason(evt.Stop.Reason) != "" {
				reason = normalizeCallEndReason(evt.Stop.Reason)
			}
			s.logger.Info("twilio_stream_stopped", slog.String("stream_id", streamID), slog.String("reason", reason))
			s.detach(streamID)
			return
		}
	}
	if streamID != "" {
		s.logger.Info("twilio_stream_closed", slog.String("stream_id", streamID))
		s.detach(streamID)
	}
}

func (s *Source) deliver(streamID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.streams[streamID]
	if !s.capturing || st == nil {
		frames.ReleaseAudioBuf(payload)
		return
	}
	st.frames++
	meta := map[string]string{
		frames.MetaSource:  "twilio",
		frames.MetaCodec:   frames.CodecMulaw,
		frames.MetaCallSID: st.callSID,
	}
	pts := s.pts.Advance(streamID, frames.PayloadDuration(len(payload), SampleRate, Channels, frames.CodecMulaw))
	af := frames.WrapPooled(streamID, pts, payload, SampleRate, Channels, meta)
	select {
	case s.out <- af:
	default:
		frames.ReleaseAudioFrame(af)
		s.logger.Warn("twilio_frame_dropped", slog.String("stream_id", streamID), slog.Int("frame", st.frames))
	}
}

func (s *Source) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateRequest(r) {
		s.logger.Warn("twilio_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(streamTwiML(s.websocketURL(r), s.cfg.VoiceGreeting)))
}

// streamTwiML connects the call audio to the media stream at wsURL, after an
// optional spoken greeting.
func streamTwiML(wsURL, greeting string) string {
	var b strings.Builder
	b.WriteString("<Response>")
	if g := strings.TrimSpace(greeting); g != "" {
		b.WriteString("<Say>" + xmlEscape(g) + "</Say>")
	}
	b.WriteString(`<Connect><Stream url="` + xmlEscape(wsURL) + `"/></Connect></Response>`)
	return b.String()
}

func (s *Source) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateRequest(r) {
		s.logger.Warn("twilio_status_invalid_signature", slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if reason != "" && callSID != "" {
		if streamID := s.streamForCall(callSID); streamID != "" {
			s.logger.Info("twilio_call_ended", slog.String("call_sid", callSID), slog.String("reason", reason))
			s.detach(streamID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Source) isCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

func (s *Source) attach(streamID, callSID string, conn *websocket.Conn) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	var old *stream
	if callSID != "" {
		if existing := s.calls[callSID]; existing != "" && existing != streamID {
			old = s.streams[existing]
			delete(s.streams, existing)
		}
		s.calls[callSID] = streamID
	}
	s.streams[streamID] = &stream{id: streamID, callSID: callSID, conn: conn}
	return old
}

func (s *Source) detach(streamID string) {
	s.mu.Lock()
	st := s.streams[streamID]
	delete(s.streams, streamID)
	s.pts.Reset(streamID)
	if st != nil && st.callSID != "" && s.calls[st.callSID] == streamID {
		delete(s.calls, st.callSID)
	}
	s.mu.Unlock()
	if st != nil {
		_ = st.conn.Close()
	}
}

func (s *Source) streamForCall(callSID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callSID]
}

// ActiveStreams reports the number of connected media streams.
func (s *Source) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Source) validateRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || s.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.ValidateBody(s.requestURL(r), body, signature)
}

func (s *Source) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Source) websocketURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(s.cfg.PublicURL) + s.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return "wss://" + host + s.cfg.WebsocketPath
}

func (s *Source) publicURL(scheme, path string) string {
	return publicURL(s.cfg, scheme, path)
}

func publicURL(cfg Config, scheme, path string) string {
	if cfg.PublicURL != "" {
		return scheme + "://" + normalizePublicURL(cfg.PublicURL) + path
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (s *Source) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizeCallEndReason(raw string) string {
	switch r := strings.ToLower(strings.TrimSpace(raw)); r {
	case "", "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "https://"), "http://")
	return strings.TrimRight(v, "/")
}

type StartEvent struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type MediaEvent struct {
	Payload string `json:"payload"`
}

type StopEvent struct {
	Reason string `json:"reason"`
}

// Event is one Media Streams websocket message.
type Event struct {
	Event string      `json:"event"`
	Start *StartEvent `json:"start,omitempty"`
	Media *MediaEvent `json:"media,omitempty"`
	Stop  *StopEvent  `json:"stop,omitempty"`
}

var _ audio.Source = (*Source)(nil)
