// Package config defines the server configuration: HTTP/websocket listener,
// backend selection and per-backend settings, and the audio cache. Values
// come from a YAML file via viper with environment variable overrides for
// secrets.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	TTS      TTSConfig      `yaml:"tts"`
	Cache    CacheConfig    `yaml:"cache"`
	Backends BackendsConfig `yaml:"backends"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"DANMU_TTS_HOST" envDefault:"0.0.0.0"`
	Port            int           `yaml:"port" env:"DANMU_TTS_PORT" envDefault:"8080"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envDefault:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envDefault:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envDefault:"10s"`
}

// TTSConfig covers request routing and normalization.
type TTSConfig struct {
	PrimaryBackend   string   `yaml:"primary_backend" env:"DANMU_TTS_PRIMARY_BACKEND" envDefault:"edge"`
	FallbackBackends []string `yaml:"fallback_backends"`
	QualityHigh      []string `yaml:"quality_high"`
	QualityLow       []string `yaml:"quality_low"`

	MaxTextLength     int    `yaml:"max_text_length" envDefault:"1000"`
	DefaultFormat     string `yaml:"default_format" envDefault:"mp3"`
	DefaultSampleRate int    `yaml:"default_sample_rate" envDefault:"24000"`
	ChunkSize         int    `yaml:"chunk_size" envDefault:"4096"`
}

// CacheConfig covers the audio cache tier.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" envDefault:"true"`
	Type          string        `yaml:"type" env:"DANMU_TTS_CACHE_TYPE" envDefault:"memory"`
	MaxSize       string        `yaml:"max_size" envDefault:"500MB"`
	TTL           time.Duration `yaml:"ttl" envDefault:"1h"`
	SweepInterval time.Duration `yaml:"sweep_interval" envDefault:"5m"`
	Dir           string        `yaml:"dir"`
	Compression   int           `yaml:"compression" envDefault:"3"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db"`
}

// BackendsConfig holds per-backend settings and enablement.
type BackendsConfig struct {
	Edge   EdgeConfig   `yaml:"edge"`
	Piper  PiperConfig  `yaml:"piper"`
	XTTS   XTTSConfig   `yaml:"xtts"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Mock   MockConfig   `yaml:"mock"`
}

// EdgeConfig configures the Edge read-aloud backend.
type EdgeConfig struct {
	Enabled bool          `yaml:"enabled" envDefault:"true"`
	Voice   string        `yaml:"voice" envDefault:"zh-CN-XiaoxiaoNeural"`
	Rate    string        `yaml:"rate" envDefault:"+0%"`
	Volume  string        `yaml:"volume" envDefault:"+0%"`
	Pitch   string        `yaml:"pitch" envDefault:"+0Hz"`
	Timeout time.Duration `yaml:"timeout" envDefault:"30s"`
}

// PiperConfig configures the local Piper backend.
type PiperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Binary   string        `yaml:"binary"`
	ModelDir string        `yaml:"model_dir"`
	Voice    string        `yaml:"voice"`
	Timeout  time.Duration `yaml:"timeout" envDefault:"30s"`
}

// XTTSConfig configures the XTTS inference server client.
type XTTSConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url" env:"DANMU_TTS_XTTS_URL" envDefault:"http://127.0.0.1:8020"`
	Speaker  string        `yaml:"speaker"`
	Language string        `yaml:"language" envDefault:"zh-cn"`
	Timeout  time.Duration `yaml:"timeout" envDefault:"2m"`
}

// OpenAIConfig configures the OpenAI speech backend.
type OpenAIConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model   string        `yaml:"model" envDefault:"tts-1"`
	Voice   string        `yaml:"voice" envDefault:"alloy"`
	Speed   float64       `yaml:"speed" envDefault:"1.0"`
	Timeout time.Duration `yaml:"timeout" envDefault:"30s"`
}

// MockConfig configures the deterministic test backend.
type MockConfig struct {
	Enabled         bool          `yaml:"enabled"`
	GenerationDelay time.Duration `yaml:"generation_delay" envDefault:"0s"`
	FailureRate     float64       `yaml:"failure_rate" envDefault:"0.0"`
}

// LogConfig covers structured logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"DANMU_TTS_LOG_LEVEL" envDefault:"info"`
	Format string `yaml:"format" envDefault:"text"` // text or json
}

// Default returns a Config with the stock defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		TTS: TTSConfig{
			PrimaryBackend:    "edge",
			FallbackBackends:  []string{"piper", "xtts"},
			QualityHigh:       []string{"xtts", "edge", "piper"},
			QualityLow:        []string{"edge", "piper", "xtts"},
			MaxTextLength:     1000,
			DefaultFormat:     "mp3",
			DefaultSampleRate: 24000,
			ChunkSize:         4096,
		},
		Cache: CacheConfig{
			Enabled:       true,
			Type:          "memory",
			MaxSize:       "500MB",
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
			Compression:   3,
		},
		Backends: BackendsConfig{
			Edge: EdgeConfig{
				Enabled: true,
				Voice:   "zh-CN-XiaoxiaoNeural",
				Rate:    "+0%",
				Volume:  "+0%",
				Pitch:   "+0Hz",
				Timeout: 30 * time.Second,
			},
			Piper: PiperConfig{
				Timeout: 30 * time.Second,
			},
			XTTS: XTTSConfig{
				URL:      "http://127.0.0.1:8020",
				Language: "zh-cn",
				Timeout:  2 * time.Minute,
			},
			OpenAI: OpenAIConfig{
				Model:   "tts-1",
				Voice:   "alloy",
				Speed:   1.0,
				Timeout: 30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// knownBackends is the set of backend names that may appear in routing lists.
var knownBackends = map[string]bool{
	"edge":   true,
	"piper":  true,
	"xtts":   true,
	"openai": true,
	"mock":   true,
}

// Validate checks the configuration for values that would only fail later.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}

	if !knownBackends[c.TTS.PrimaryBackend] {
		return fmt.Errorf("unknown primary backend %q", c.TTS.PrimaryBackend)
	}
	for _, list := range [][]string{c.TTS.FallbackBackends, c.TTS.QualityHigh, c.TTS.QualityLow} {
		for _, name := range list {
			if !knownBackends[name] {
				return fmt.Errorf("unknown backend %q in routing list", name)
			}
		}
	}

	if c.TTS.MaxTextLength < 1 {
		return fmt.Errorf("max_text_length must be positive, got %d", c.TTS.MaxTextLength)
	}
	if c.TTS.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.TTS.ChunkSize)
	}

	switch strings.ToLower(c.Cache.Type) {
	case "memory", "disk", "redis":
	default:
		return fmt.Errorf("invalid cache type %q: must be memory, disk or redis", c.Cache.Type)
	}
	if strings.EqualFold(c.Cache.Type, "disk") && c.Cache.Dir == "" {
		return fmt.Errorf("disk cache requires cache.dir")
	}
	if c.Cache.Compression < 1 || c.Cache.Compression > 4 {
		return fmt.Errorf("compression must be between 1 and 4, got %d", c.Cache.Compression)
	}

	if c.Backends.Mock.FailureRate < 0 || c.Backends.Mock.FailureRate > 1 {
		return fmt.Errorf("mock failure_rate must be between 0.0 and 1.0, got %f",
			c.Backends.Mock.FailureRate)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	return nil
}

// EnabledBackends returns the names of enabled backends in a fixed order.
func (c *Config) EnabledBackends() []string {
	var names []string
	if c.Backends.Edge.Enabled {
		names = append(names, "edge")
	}
	if c.Backends.Piper.Enabled {
		names = append(names, "piper")
	}
	if c.Backends.XTTS.Enabled {
		names = append(names, "xtts")
	}
	if c.Backends.OpenAI.Enabled {
		names = append(names, "openai")
	}
	if c.Backends.Mock.Enabled {
		names = append(names, "mock")
	}
	return names
}
