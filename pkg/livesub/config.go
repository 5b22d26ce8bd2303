package livesub

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/livesub/pkg/configutil"
	"github.com/harunnryd/livesub/pkg/languages"
	"github.com/harunnryd/livesub/pkg/segment"
	"github.com/harunnryd/livesub/pkg/subtitles"
)

type Config struct {
	Subtitles     SubtitlesConfig     `mapstructure:"subtitles"`
	Recognition   RecognitionConfig   `mapstructure:"recognition"`
	Translation   TranslationConfig   `mapstructure:"translation"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Audio         VendorConfig        `mapstructure:"audio"`
	History       HistoryConfig       `mapstructure:"history"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT         VendorConfig `mapstructure:"stt"`
	Translation VendorConfig `mapstructure:"translation"`
}

type SubtitlesConfig struct {
	MaxEntries          int     `mapstructure:"max_entries"`
	EntryTTLSeconds     float64 `mapstructure:"entry_ttl_seconds"`
	PauseTimeoutSeconds float64 `mapstructure:"pause_timeout_seconds"`
}

type RecognitionConfig struct {
	Locale     string `mapstructure:"locale"`
	OnDevice   bool   `mapstructure:"on_device"`
	AutoDetect bool   `mapstructure:"auto_detect"`
	SampleRate int    `mapstructure:"sample_rate"`
}

type TranslationConfig struct {
	Target string `mapstructure:"target"`
	// ContextEntries is how many preceding entries accompany each request.
	ContextEntries         int     `mapstructure:"context_entries"`
	TimeoutSeconds         float64 `mapstructure:"timeout_seconds"`
	BreakerThreshold       int     `mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds float64 `mapstructure:"breaker_cooldown_seconds"`
}

type HistoryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	KeepSessions int    `mapstructure:"keep_sessions"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

type ObservabilityConfig struct {
	MetricsPath string  `mapstructure:"metrics_path"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactTranscripts bool `mapstructure:"redact_transcripts"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Subtitles: SubtitlesConfig{
			MaxEntries:          subtitles.DefaultMaxEntries,
			EntryTTLSeconds:     subtitles.DefaultTTL.Seconds(),
			PauseTimeoutSeconds: segment.DefaultPauseTimeout.Seconds(),
		},
		Recognition: RecognitionConfig{Locale: "en-US", SampleRate: 16000},
		Translation: TranslationConfig{Target: "ko", TimeoutSeconds: 10, BreakerThreshold: 3, BreakerCooldownSeconds: 30},
		Vendors: VendorsConfig{
			STT:         VendorConfig{Provider: "mock"},
			Translation: VendorConfig{Provider: "mock"},
		},
		Audio:       VendorConfig{Provider: "mock"},
		History:     HistoryConfig{Path: "livesub-history.db", KeepSessions: 20},
		Server:      ServerConfig{Addr: ":8090", SnapshotPath: "/subtitles"},
		Privacy:     PrivacyConfig{RedactTranscripts: true},
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("subtitles.max_entries", def.Subtitles.MaxEntries)
	v.SetDefault("subtitles.entry_ttl_seconds", def.Subtitles.EntryTTLSeconds)
	v.SetDefault("subtitles.pause_timeout_seconds", def.Subtitles.PauseTimeoutSeconds)
	v.SetDefault("recognition.locale", def.Recognition.Locale)
	v.SetDefault("recognition.on_device", false)
	v.SetDefault("recognition.auto_detect", false)
	v.SetDefault("recognition.sample_rate", def.Recognition.SampleRate)
	v.SetDefault("translation.target", def.Translation.Target)
	v.SetDefault("translation.context_entries", 0)
	v.SetDefault("translation.timeout_seconds", def.Translation.TimeoutSeconds)
	v.SetDefault("translation.breaker_threshold", def.Translation.BreakerThreshold)
	v.SetDefault("translation.breaker_cooldown_seconds", def.Translation.BreakerCooldownSeconds)
	v.SetDefault("vendors.stt.provider", def.Vendors.STT.Provider)
	v.SetDefault("vendors.translation.provider", def.Vendors.Translation.Provider)
	v.SetDefault("audio.provider", def.Audio.Provider)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", def.History.Path)
	v.SetDefault("history.keep_sessions", def.History.KeepSessions)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.snapshot_path", def.Server.SnapshotPath)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_transcripts", true)
	v.SetDefault("environment", def.Environment)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Subtitles.MaxEntries <= 0 {
		return fmt.Errorf("subtitles.max_entries must be positive")
	}
	if c.Subtitles.EntryTTLSeconds <= 0 {
		return fmt.Errorf("subtitles.entry_ttl_seconds must be positive")
	}
	if c.Subtitles.PauseTimeoutSeconds <= 0 {
		return fmt.Errorf("subtitles.pause_timeout_seconds must be positive")
	}
	if _, ok := languages.Lookup(c.Recognition.Locale); !ok {
		return fmt.Errorf("recognition.locale %q is not supported", c.Recognition.Locale)
	}
	if c.Translation.ContextEntries < 0 {
		return fmt.Errorf("translation.context_entries must not be negative")
	}
	if err := configutil.RequireString(c.Vendors.STT.Provider, "vendors.stt.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.Translation.Provider, "vendors.translation.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Audio.Provider, "audio.provider"); err != nil {
		return err
	}
	if c.History.Enabled {
		if err := configutil.RequireString(c.History.Path, "history.path"); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) EntryTTL() time.Duration {
	return configutil.SecondsValue(c.Subtitles.EntryTTLSeconds, subtitles.DefaultTTL)
}

func (c Config) PauseTimeout() time.Duration {
	return configutil.SecondsValue(c.Subtitles.PauseTimeoutSeconds, segment.DefaultPauseTimeout)
}

func (c Config) TranslationTimeout() time.Duration {
	return configutil.SecondsValue(c.Translation.TimeoutSeconds, 10*time.Second)
}

func (c Config) BreakerCooldown() time.Duration {
	return configutil.SecondsValue(c.Translation.BreakerCooldownSeconds, 30*time.Second)
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.Translation.Settings = expandSettings(cfg.Vendors.Translation.Settings)
	cfg.Audio.Settings = expandSettings(cfg.Audio.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandAny(v)
			}
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if !v.IsNil() {
			expandValue(v.Elem())
		}
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() && strings.Contains(v.String(), "$") {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
