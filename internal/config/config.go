package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the field-assist console
type Config struct {
	// Local console listener. Loopback by default; the console is a single-user tool.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8090"`

	// Remote analysis service base URL. Requests go to <base>/analyze.
	AnalysisAPIURL string `envconfig:"ANALYSIS_API_URL" default:"http://127.0.0.1:8000"`

	// Microphone capture (ffmpeg subprocess)
	RecorderCommand  string `envconfig:"RECORDER_COMMAND" default:"ffmpeg"`
	AudioInputFormat string `envconfig:"AUDIO_INPUT_FORMAT" default:"pulse"` // pulse, alsa, avfoundation
	AudioInputDevice string `envconfig:"AUDIO_INPUT_DEVICE" default:"default"`
	AudioSampleRate  int    `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioChannels    int    `envconfig:"AUDIO_CHANNELS" default:"1"`
	AudioChunkSize   int    `envconfig:"AUDIO_CHUNK_SIZE" default:"4096"` // bytes per read from the device

	// Voice activity detection used for the level meter and the silent-recording advisory
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`

	// Optional live caption preview while recording. Disabled when the key is empty.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	ReconnectMaxAttempts int `envconfig:"CAPTION_RECONNECT_MAX_ATTEMPTS" default:"3"`
	ReconnectBackoff     int `envconfig:"CAPTION_RECONNECT_BACKOFF" default:"500"` // milliseconds

	// Caption connects stop being attempted after this many consecutive failures
	BreakerMaxFailures  int `envconfig:"CAPTION_BREAKER_MAX_FAILURES" default:"3"`
	BreakerResetTimeout int `envconfig:"CAPTION_BREAKER_RESET_TIMEOUT" default:"30000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file (or ENV_FILE) if it exists, then from environment
func Load() (*Config, error) {
	// Missing env file is fine
	_ = godotenv.Load(GetEnv("ENV_FILE", ".env"))

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	c.AnalysisAPIURL = strings.TrimRight(strings.TrimSpace(c.AnalysisAPIURL), "/")
	if c.AnalysisAPIURL == "" {
		return fmt.Errorf("ANALYSIS_API_URL must not be empty")
	}
	parsed, err := url.Parse(c.AnalysisAPIURL)
	if err != nil {
		return fmt.Errorf("ANALYSIS_API_URL is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("ANALYSIS_API_URL must be an http(s) URL, got %q", c.AnalysisAPIURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("ANALYSIS_API_URL is missing a host: %q", c.AnalysisAPIURL)
	}

	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	if c.AudioChannels <= 0 {
		return fmt.Errorf("AUDIO_CHANNELS must be positive, got %d", c.AudioChannels)
	}
	if c.AudioChunkSize < 256 {
		c.AudioChunkSize = 4096
	}
	if c.ReconnectMaxAttempts < 0 {
		c.ReconnectMaxAttempts = 0
	}
	if c.BreakerMaxFailures <= 0 {
		c.BreakerMaxFailures = 3
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30000
	}

	return nil
}

// CaptionsEnabled reports whether live caption preview is configured
func (c *Config) CaptionsEnabled() bool {
	return strings.TrimSpace(c.DeepgramAPIKey) != ""
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
