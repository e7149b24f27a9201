package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Backend     BackendConfig     `toml:"backend"`
	Session     SessionConfig     `toml:"session"`
	Capture     CaptureConfig     `toml:"capture"`
	Translation TranslationConfig `toml:"translation"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig represents the local control API configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// BackendConfig represents the translation backend configuration
type BackendConfig struct {
	BaseURL               string `toml:"base_url"`
	HubURL                string `toml:"hub_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	MaxRetries            int    `toml:"max_retries"`
	RetryInitialBackoffMs int    `toml:"retry_initial_backoff_ms"`
	TextProvider          string `toml:"text_provider"` // "http" or "openai"
	OpenAIAPIKey          string `toml:"openai_api_key"`
	OpenAIModel           string `toml:"openai_model"`
}

// SessionConfig represents the duplex hub session configuration
type SessionConfig struct {
	RejoinOnReconnect       bool  `toml:"rejoin_on_reconnect"`
	ReconnectDelaysMs       []int `toml:"reconnect_delays_ms"`
	HandshakeTimeoutSeconds int   `toml:"handshake_timeout_seconds"`
	KeepAliveSeconds        int   `toml:"keep_alive_seconds"`
	ServerTimeoutSeconds    int   `toml:"server_timeout_seconds"`
	InvokeTimeoutSeconds    int   `toml:"invoke_timeout_seconds"`
}

// CaptureConfig represents microphone capture and segmentation settings
type CaptureConfig struct {
	TimeSliceMs       int     `toml:"time_slice_ms"`
	SilenceTimeoutMs  int     `toml:"silence_timeout_ms"`
	ContinuousMode    bool    `toml:"continuous_mode"`
	SampleRate        int     `toml:"sample_rate"`
	Channels          int     `toml:"channels"`
	LevelIntervalMs   int     `toml:"level_interval_ms"`
	ActivityThreshold float64 `toml:"activity_threshold"`
	FFTSize           int     `toml:"fft_size"`
	FFmpegPath        string  `toml:"ffmpeg_path"`
	InputFormat       string  `toml:"input_format"`
	InputDevice       string  `toml:"input_device"`
}

// TranslationConfig represents the language pair and playback settings
type TranslationConfig struct {
	SourceLanguage string `toml:"source_language"`
	TargetLanguage string `toml:"target_language"`
	AutoPlay       bool   `toml:"auto_play"`
	PlayerPath     string `toml:"player_path"`
}

// StorageConfig represents the translation history store
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`
	SQLitePath string `toml:"sqlite_path"`
}

// LoggingConfig represents logger settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration populated with the built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Backend: BackendConfig{
			BaseURL:               "https://localhost:7071/api",
			HubURL:                "https://localhost:7071/hubs/translation",
			RequestTimeoutSeconds: 30,
			MaxRetries:            3,
			RetryInitialBackoffMs: 500,
			TextProvider:          "http",
			OpenAIModel:           "gpt-4o-mini",
		},
		Session: SessionConfig{
			RejoinOnReconnect:       true,
			ReconnectDelaysMs:       []int{0, 2000, 10000, 30000},
			HandshakeTimeoutSeconds: 15,
			KeepAliveSeconds:        15,
			ServerTimeoutSeconds:    30,
			InvokeTimeoutSeconds:    30,
		},
		Capture: CaptureConfig{
			TimeSliceMs:       1000,
			SilenceTimeoutMs:  2000,
			ContinuousMode:    false,
			SampleRate:        16000,
			Channels:          1,
			LevelIntervalMs:   50,
			ActivityThreshold: 5,
			FFTSize:           256,
			FFmpegPath:        "ffmpeg",
			InputFormat:       "pulse",
			InputDevice:       "default",
		},
		Translation: TranslationConfig{
			SourceLanguage: "pt-BR",
			TargetLanguage: "en-US",
			AutoPlay:       true,
			PlayerPath:     "ffplay",
		},
		Storage: StorageConfig{
			Enabled:    false,
			SQLitePath: "translator.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TRANSLATOR_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("TRANSLATOR_HUB_URL"); v != "" {
		c.Backend.HubURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Backend.OpenAIAPIKey == "" {
		c.Backend.OpenAIAPIKey = v
	}
}

// Validate checks the configuration for values the components cannot run with
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.HubURL == "" {
		return fmt.Errorf("backend.hub_url is required")
	}
	switch c.Backend.TextProvider {
	case "http":
	case "openai":
		if c.Backend.OpenAIAPIKey == "" {
			return fmt.Errorf("backend.openai_api_key is required when text_provider is openai")
		}
	default:
		return fmt.Errorf("unsupported backend.text_provider: %q", c.Backend.TextProvider)
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must not be negative")
	}
	for _, d := range c.Session.ReconnectDelaysMs {
		if d < 0 {
			return fmt.Errorf("session.reconnect_delays_ms must not contain negative values")
		}
	}

	if c.Capture.TimeSliceMs <= 0 {
		return fmt.Errorf("capture.time_slice_ms must be positive, got %d", c.Capture.TimeSliceMs)
	}
	if c.Capture.SilenceTimeoutMs < 0 {
		return fmt.Errorf("capture.silence_timeout_ms must not be negative, got %d", c.Capture.SilenceTimeoutMs)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	if c.Capture.Channels != 1 {
		return fmt.Errorf("capture.channels must be 1, got %d", c.Capture.Channels)
	}
	if c.Capture.LevelIntervalMs <= 0 {
		return fmt.Errorf("capture.level_interval_ms must be positive, got %d", c.Capture.LevelIntervalMs)
	}
	if c.Capture.ActivityThreshold < 0 || c.Capture.ActivityThreshold > 100 {
		return fmt.Errorf("capture.activity_threshold must be within 0..100, got %v", c.Capture.ActivityThreshold)
	}
	if n := c.Capture.FFTSize; n < 32 || n&(n-1) != 0 {
		return fmt.Errorf("capture.fft_size must be a power of two >= 32, got %d", n)
	}

	if _, ok := translation.LookupLanguage(c.Translation.SourceLanguage); !ok {
		return fmt.Errorf("unsupported translation.source_language: %q", c.Translation.SourceLanguage)
	}
	if _, ok := translation.LookupLanguage(c.Translation.TargetLanguage); !ok {
		return fmt.Errorf("unsupported translation.target_language: %q", c.Translation.TargetLanguage)
	}
	if c.Translation.SourceLanguage == c.Translation.TargetLanguage {
		return fmt.Errorf("translation.source_language and target_language must differ")
	}

	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required when storage is enabled")
	}
	return nil
}

// TimeSlice returns the recorder time slice as a duration
func (c CaptureConfig) TimeSlice() time.Duration {
	return time.Duration(c.TimeSliceMs) * time.Millisecond
}

// SilenceTimeout returns the auto-stop silence window; zero disables it
func (c CaptureConfig) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutMs) * time.Millisecond
}

// LevelInterval returns the level sampling period
func (c CaptureConfig) LevelInterval() time.Duration {
	return time.Duration(c.LevelIntervalMs) * time.Millisecond
}

// RequestTimeout returns the backend HTTP timeout
func (c BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RetryInitialBackoff returns the first retry delay for backend calls
func (c BackendConfig) RetryInitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoffMs) * time.Millisecond
}

// ReconnectDelays returns the hub reconnect schedule
func (c SessionConfig) ReconnectDelays() []time.Duration {
	delays := make([]time.Duration, len(c.ReconnectDelaysMs))
	for i, ms := range c.ReconnectDelaysMs {
		delays[i] = time.Duration(ms) * time.Millisecond
	}
	return delays
}

// HandshakeTimeout returns the hub handshake timeout
func (c SessionConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// KeepAlive returns the hub ping interval
func (c SessionConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// ServerTimeout returns how long the hub may stay silent before the link is considered lost
func (c SessionConfig) ServerTimeout() time.Duration {
	return time.Duration(c.ServerTimeoutSeconds) * time.Second
}

// InvokeTimeout returns the per-invocation deadline
func (c SessionConfig) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutSeconds) * time.Second
}

// Address returns the host:port the API listens on
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
