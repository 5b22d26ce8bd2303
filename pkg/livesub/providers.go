package livesub

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/livesub/pkg/adapters/audio"
	"github.com/harunnryd/livesub/pkg/adapters/stt"
	"github.com/harunnryd/livesub/pkg/adapters/translation"
	"github.com/harunnryd/livesub/pkg/configutil"
	"github.com/harunnryd/livesub/pkg/languages"
	"github.com/harunnryd/livesub/pkg/providers/deepgram"
	"github.com/harunnryd/livesub/pkg/providers/google"
	"github.com/harunnryd/livesub/pkg/providers/mock"
	"github.com/harunnryd/livesub/pkg/providers/openai"
	"github.com/harunnryd/livesub/pkg/transports/twilio"
)

type STTBuilder func(cfg Config, log *slog.Logger) (stt.EngineFactory, error)
type TranslatorBuilder func(cfg Config, log *slog.Logger) (translation.Translator, error)
type AudioBuilder func(cfg Config, log *slog.Logger) (audio.Source, error)

// ProviderRegistry maps vendor names from the config file to constructors.
type ProviderRegistry struct {
	stt        map[string]STTBuilder
	translator map[string]TranslatorBuilder
	audio      map[string]AudioBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:        make(map[string]STTBuilder),
		translator: make(map[string]TranslatorBuilder),
		audio:      make(map[string]AudioBuilder),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, b STTBuilder) {
	r.stt[providerKey(name)] = b
}

func (r *ProviderRegistry) RegisterTranslator(name string, b TranslatorBuilder) {
	r.translator[providerKey(name)] = b
}

func (r *ProviderRegistry) RegisterAudio(name string, b AudioBuilder) {
	r.audio[providerKey(name)] = b
}

func (r *ProviderRegistry) BuildSTT(cfg Config, log *slog.Logger) (stt.EngineFactory, error) {
	b := r.stt[providerKey(cfg.Vendors.STT.Provider)]
	if b == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Vendors.STT.Provider)
	}
	return b(cfg, log)
}

func (r *ProviderRegistry) BuildTranslator(cfg Config, log *slog.Logger) (translation.Translator, error) {
	b := r.translator[providerKey(cfg.Vendors.Translation.Provider)]
	if b == nil {
		return nil, fmt.Errorf("translation provider not registered: %s", cfg.Vendors.Translation.Provider)
	}
	return b(cfg, log)
}

func (r *ProviderRegistry) BuildAudio(cfg Config, log *slog.Logger) (audio.Source, error) {
	b := r.audio[providerKey(cfg.Audio.Provider)]
	if b == nil {
		return nil, fmt.Errorf("audio provider not registered: %s", cfg.Audio.Provider)
	}
	return b(cfg, log)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultProviders registers every bundled vendor.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("deepgram", buildDeepgram)
	r.RegisterSTT("mock", buildMockSTT)
	r.RegisterTranslator("google", buildGoogle)
	r.RegisterTranslator("openai", buildOpenAI)
	r.RegisterTranslator("mock", buildMockTranslator)
	r.RegisterAudio("twilio", buildTwilio)
	r.RegisterAudio("mock", buildMockAudio)
	return r
}

var deepgramSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "encoding", "sample_rate", "channels", "smart_format", "endpointing_ms", "utterance_end_ms"},
}

var googleSchema = configutil.Schema{
	Optional: []string{"source", "target", "base_url", "timeout_seconds"},
}

var openaiSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "base_url", "source", "target"},
}

var twilioSchema = configutil.Schema{
	Required: []string{"auth_token"},
	Optional: []string{"server_addr", "public_url", "account_sid", "voice_path", "ws_path",
		"status_callback_path", "voice_greeting", "allow_any_origin", "allowed_origins", "hangup_on_stop"},
}

func buildDeepgram(cfg Config, log *slog.Logger) (stt.EngineFactory, error) {
	var dc deepgram.Config
	if err := deepgramSchema.Decode(cfg.Vendors.STT.Settings, &dc); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	if dc.SampleRate == 0 {
		dc.SampleRate = cfg.Recognition.SampleRate
	}
	return deepgram.NewFactory(dc, log), nil
}

type mockSTTSettings struct {
	Phrases       []string `mapstructure:"phrases"`
	FramesPerWord int      `mapstructure:"frames_per_word"`
}

func buildMockSTT(cfg Config, _ *slog.Logger) (stt.EngineFactory, error) {
	var ms mockSTTSettings
	if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &ms); err != nil {
		return nil, fmt.Errorf("vendors.stt.settings: %w", err)
	}
	if len(ms.Phrases) == 0 {
		ms.Phrases = []string{"Hello there. This is a mock recognizer speaking."}
	}
	if ms.FramesPerWord <= 0 {
		ms.FramesPerWord = 10
	}
	rec := mock.NewRecognizer(mock.STTConfig{Phrases: ms.Phrases, FramesPerWord: ms.FramesPerWord})
	return rec.Factory, nil
}

func buildGoogle(cfg Config, log *slog.Logger) (translation.Translator, error) {
	var gc google.Config
	if err := googleSchema.Decode(cfg.Vendors.Translation.Settings, &gc); err != nil {
		return nil, fmt.Errorf("vendors.translation.settings: %w", err)
	}
	if gc.Target == "" {
		gc.Target = cfg.Translation.Target
	}
	if gc.Source == "" {
		gc.Source = sourceLanguage(cfg.Recognition.Locale)
	}
	return google.New(gc, log), nil
}

func buildOpenAI(cfg Config, log *slog.Logger) (translation.Translator, error) {
	var oc openai.Config
	if err := openaiSchema.Decode(cfg.Vendors.Translation.Settings, &oc); err != nil {
		return nil, fmt.Errorf("vendors.translation.settings: %w", err)
	}
	if oc.Target == "" {
		oc.Target = cfg.Translation.Target
	}
	if oc.Source == "" {
		oc.Source = sourceLanguage(cfg.Recognition.Locale)
	}
	return openai.New(oc, log), nil
}

type mockTranslatorSettings struct {
	Prefix  string `mapstructure:"prefix"`
	DelayMS int    `mapstructure:"delay_ms"`
}

func buildMockTranslator(cfg Config, _ *slog.Logger) (translation.Translator, error) {
	var ms mockTranslatorSettings
	if err := configutil.DecodeSettings(cfg.Vendors.Translation.Settings, &ms); err != nil {
		return nil, fmt.Errorf("vendors.translation.settings: %w", err)
	}
	if ms.Prefix == "" {
		ms.Prefix = "[" + cfg.Translation.Target + "] "
	}
	return mock.NewContextTranslator(mock.TranslatorConfig{
		Prefix: ms.Prefix,
		Delay:  time.Duration(ms.DelayMS) * time.Millisecond,
	}), nil
}

func buildTwilio(cfg Config, log *slog.Logger) (audio.Source, error) {
	var tc twilio.Config
	if err := twilioSchema.Decode(cfg.Audio.Settings, &tc); err != nil {
		return nil, fmt.Errorf("audio.settings: %w", err)
	}
	return twilio.New(tc, log), nil
}

type mockAudioSettings struct {
	Frames     int `mapstructure:"frames"`
	IntervalMS int `mapstructure:"interval_ms"`
	FrameBytes int `mapstructure:"frame_bytes"`
}

func buildMockAudio(cfg Config, _ *slog.Logger) (audio.Source, error) {
	var ms mockAudioSettings
	if err := configutil.DecodeSettings(cfg.Audio.Settings, &ms); err != nil {
		return nil, fmt.Errorf("audio.settings: %w", err)
	}
	if ms.IntervalMS <= 0 {
		ms.IntervalMS = 20
	}
	return mock.NewAudioSource(mock.AudioConfig{
		Frames:     ms.Frames,
		Interval:   time.Duration(ms.IntervalMS) * time.Millisecond,
		FrameBytes: ms.FrameBytes,
		SampleRate: cfg.Recognition.SampleRate,
	}), nil
}

// sourceLanguage maps a recognizer locale to the tag translators expect.
func sourceLanguage(locale string) string {
	if l, ok := languages.Lookup(locale); ok {
		return l.Translation
	}
	return locale
}

// Build constructs an engine for cfg. Vendors not already set on opts are
// built from reg.
func Build(cfg Config, reg *ProviderRegistry, opts Options) (*Engine, error) {
	if reg == nil {
		reg = DefaultProviders()
	}
	var err error
	if opts.Factory == nil {
		if opts.Factory, err = reg.BuildSTT(cfg, opts.Logger); err != nil {
			return nil, err
		}
	}
	if opts.Translator == nil {
		if opts.Translator, err = reg.BuildTranslator(cfg, opts.Logger); err != nil {
			return nil, err
		}
	}
	if opts.Source == nil {
		if opts.Source, err = reg.BuildAudio(cfg, opts.Logger); err != nil {
			return nil, err
		}
	}
	opts.Config = cfg
	return NewEngine(opts), nil
}
