package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Load reads configuration from viper (already pointed at a config file by
// the command layer), then overlays environment variables so secrets never
// have to live in the file. Returns the validated result.
func Load() (Config, error) {
	cfg := FromViper()

	// Env wins over file for the tagged fields (API keys, redis credentials,
	// listener overrides).
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromViper assembles a Config from whatever viper currently holds, falling
// back to defaults for unset keys.
func FromViper() Config {
	cfg := Default()

	if viper.IsSet("server.host") {
		cfg.Server.Host = viper.GetString("server.host")
	}
	if viper.IsSet("server.port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}
	if viper.IsSet("server.cors_origins") {
		cfg.Server.CORSOrigins = viper.GetStringSlice("server.cors_origins")
	}
	if viper.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = getDuration("server.read_timeout", cfg.Server.ReadTimeout)
	}
	if viper.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = getDuration("server.write_timeout", cfg.Server.WriteTimeout)
	}
	if viper.IsSet("server.shutdown_timeout") {
		cfg.Server.ShutdownTimeout = getDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	}

	if viper.IsSet("tts.primary_backend") {
		cfg.TTS.PrimaryBackend = viper.GetString("tts.primary_backend")
	}
	if viper.IsSet("tts.fallback_backends") {
		cfg.TTS.FallbackBackends = viper.GetStringSlice("tts.fallback_backends")
	}
	if viper.IsSet("tts.quality_high") {
		cfg.TTS.QualityHigh = viper.GetStringSlice("tts.quality_high")
	}
	if viper.IsSet("tts.quality_low") {
		cfg.TTS.QualityLow = viper.GetStringSlice("tts.quality_low")
	}
	if viper.IsSet("tts.max_text_length") {
		cfg.TTS.MaxTextLength = viper.GetInt("tts.max_text_length")
	}
	if viper.IsSet("tts.default_format") {
		cfg.TTS.DefaultFormat = viper.GetString("tts.default_format")
	}
	if viper.IsSet("tts.default_sample_rate") {
		cfg.TTS.DefaultSampleRate = viper.GetInt("tts.default_sample_rate")
	}
	if viper.IsSet("tts.chunk_size") {
		cfg.TTS.ChunkSize = viper.GetInt("tts.chunk_size")
	}

	if viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = viper.GetBool("cache.enabled")
	}
	if viper.IsSet("cache.type") {
		cfg.Cache.Type = viper.GetString("cache.type")
	}
	if viper.IsSet("cache.max_size") {
		cfg.Cache.MaxSize = viper.GetString("cache.max_size")
	}
	if viper.IsSet("cache.ttl") {
		cfg.Cache.TTL = getDuration("cache.ttl", cfg.Cache.TTL)
	}
	if viper.IsSet("cache.sweep_interval") {
		cfg.Cache.SweepInterval = getDuration("cache.sweep_interval", cfg.Cache.SweepInterval)
	}
	if viper.IsSet("cache.dir") {
		cfg.Cache.Dir = viper.GetString("cache.dir")
	}
	if viper.IsSet("cache.compression") {
		cfg.Cache.Compression = viper.GetInt("cache.compression")
	}
	if viper.IsSet("cache.redis_addr") {
		cfg.Cache.RedisAddr = viper.GetString("cache.redis_addr")
	}
	if viper.IsSet("cache.redis_password") {
		cfg.Cache.RedisPassword = viper.GetString("cache.redis_password")
	}
	if viper.IsSet("cache.redis_db") {
		cfg.Cache.RedisDB = viper.GetInt("cache.redis_db")
	}

	cfg.Backends.Edge = loadEdgeConfig(cfg.Backends.Edge)
	cfg.Backends.Piper = loadPiperConfig(cfg.Backends.Piper)
	cfg.Backends.XTTS = loadXTTSConfig(cfg.Backends.XTTS)
	cfg.Backends.OpenAI = loadOpenAIConfig(cfg.Backends.OpenAI)
	cfg.Backends.Mock = loadMockConfig(cfg.Backends.Mock)

	if viper.IsSet("log.level") {
		cfg.Log.Level = viper.GetString("log.level")
	}
	if viper.IsSet("log.format") {
		cfg.Log.Format = viper.GetString("log.format")
	}

	return cfg
}

func loadEdgeConfig(cfg EdgeConfig) EdgeConfig {
	if viper.IsSet("backends.edge.enabled") {
		cfg.Enabled = viper.GetBool("backends.edge.enabled")
	}
	if viper.IsSet("backends.edge.voice") {
		cfg.Voice = viper.GetString("backends.edge.voice")
	}
	if viper.IsSet("backends.edge.rate") {
		cfg.Rate = viper.GetString("backends.edge.rate")
	}
	if viper.IsSet("backends.edge.volume") {
		cfg.Volume = viper.GetString("backends.edge.volume")
	}
	if viper.IsSet("backends.edge.pitch") {
		cfg.Pitch = viper.GetString("backends.edge.pitch")
	}
	if viper.IsSet("backends.edge.timeout") {
		cfg.Timeout = getDuration("backends.edge.timeout", cfg.Timeout)
	}
	return cfg
}

func loadPiperConfig(cfg PiperConfig) PiperConfig {
	if viper.IsSet("backends.piper.enabled") {
		cfg.Enabled = viper.GetBool("backends.piper.enabled")
	}
	if viper.IsSet("backends.piper.binary") {
		cfg.Binary = viper.GetString("backends.piper.binary")
	}
	if viper.IsSet("backends.piper.model_dir") {
		cfg.ModelDir = viper.GetString("backends.piper.model_dir")
	}
	if viper.IsSet("backends.piper.voice") {
		cfg.Voice = viper.GetString("backends.piper.voice")
	}
	if viper.IsSet("backends.piper.timeout") {
		cfg.Timeout = getDuration("backends.piper.timeout", cfg.Timeout)
	}
	return cfg
}

func loadXTTSConfig(cfg XTTSConfig) XTTSConfig {
	if viper.IsSet("backends.xtts.enabled") {
		cfg.Enabled = viper.GetBool("backends.xtts.enabled")
	}
	if viper.IsSet("backends.xtts.url") {
		cfg.URL = viper.GetString("backends.xtts.url")
	}
	if viper.IsSet("backends.xtts.speaker") {
		cfg.Speaker = viper.GetString("backends.xtts.speaker")
	}
	if viper.IsSet("backends.xtts.language") {
		cfg.Language = viper.GetString("backends.xtts.language")
	}
	if viper.IsSet("backends.xtts.timeout") {
		cfg.Timeout = getDuration("backends.xtts.timeout", cfg.Timeout)
	}
	return cfg
}

func loadOpenAIConfig(cfg OpenAIConfig) OpenAIConfig {
	if viper.IsSet("backends.openai.enabled") {
		cfg.Enabled = viper.GetBool("backends.openai.enabled")
	}
	if viper.IsSet("backends.openai.api_key") {
		cfg.APIKey = viper.GetString("backends.openai.api_key")
	}
	if viper.IsSet("backends.openai.base_url") {
		cfg.BaseURL = viper.GetString("backends.openai.base_url")
	}
	if viper.IsSet("backends.openai.model") {
		cfg.Model = viper.GetString("backends.openai.model")
	}
	if viper.IsSet("backends.openai.voice") {
		cfg.Voice = viper.GetString("backends.openai.voice")
	}
	if viper.IsSet("backends.openai.speed") {
		cfg.Speed = viper.GetFloat64("backends.openai.speed")
	}
	if viper.IsSet("backends.openai.timeout") {
		cfg.Timeout = getDuration("backends.openai.timeout", cfg.Timeout)
	}
	return cfg
}

func loadMockConfig(cfg MockConfig) MockConfig {
	if viper.IsSet("backends.mock.enabled") {
		cfg.Enabled = viper.GetBool("backends.mock.enabled")
	}
	if viper.IsSet("backends.mock.generation_delay") {
		cfg.GenerationDelay = getDuration("backends.mock.generation_delay", cfg.GenerationDelay)
	}
	if viper.IsSet("backends.mock.failure_rate") {
		cfg.FailureRate = viper.GetFloat64("backends.mock.failure_rate")
	}
	return cfg
}

// SetDefaults seeds viper so a partial config file inherits the stock values.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)
	viper.SetDefault("server.read_timeout", defaults.Server.ReadTimeout.String())
	viper.SetDefault("server.write_timeout", defaults.Server.WriteTimeout.String())
	viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout.String())

	viper.SetDefault("tts.primary_backend", defaults.TTS.PrimaryBackend)
	viper.SetDefault("tts.fallback_backends", defaults.TTS.FallbackBackends)
	viper.SetDefault("tts.quality_high", defaults.TTS.QualityHigh)
	viper.SetDefault("tts.quality_low", defaults.TTS.QualityLow)
	viper.SetDefault("tts.max_text_length", defaults.TTS.MaxTextLength)
	viper.SetDefault("tts.default_format", defaults.TTS.DefaultFormat)
	viper.SetDefault("tts.default_sample_rate", defaults.TTS.DefaultSampleRate)
	viper.SetDefault("tts.chunk_size", defaults.TTS.ChunkSize)

	viper.SetDefault("cache.enabled", defaults.Cache.Enabled)
	viper.SetDefault("cache.type", defaults.Cache.Type)
	viper.SetDefault("cache.max_size", defaults.Cache.MaxSize)
	viper.SetDefault("cache.ttl", defaults.Cache.TTL.String())
	viper.SetDefault("cache.sweep_interval", defaults.Cache.SweepInterval.String())
	viper.SetDefault("cache.compression", defaults.Cache.Compression)

	viper.SetDefault("backends.edge.enabled", defaults.Backends.Edge.Enabled)
	viper.SetDefault("backends.edge.voice", defaults.Backends.Edge.Voice)
	viper.SetDefault("backends.edge.rate", defaults.Backends.Edge.Rate)
	viper.SetDefault("backends.edge.volume", defaults.Backends.Edge.Volume)
	viper.SetDefault("backends.edge.pitch", defaults.Backends.Edge.Pitch)
	viper.SetDefault("backends.edge.timeout", defaults.Backends.Edge.Timeout.String())

	viper.SetDefault("backends.piper.timeout", defaults.Backends.Piper.Timeout.String())
	viper.SetDefault("backends.xtts.url", defaults.Backends.XTTS.URL)
	viper.SetDefault("backends.xtts.language", defaults.Backends.XTTS.Language)
	viper.SetDefault("backends.xtts.timeout", defaults.Backends.XTTS.Timeout.String())
	viper.SetDefault("backends.openai.model", defaults.Backends.OpenAI.Model)
	viper.SetDefault("backends.openai.voice", defaults.Backends.OpenAI.Voice)
	viper.SetDefault("backends.openai.speed", defaults.Backends.OpenAI.Speed)
	viper.SetDefault("backends.openai.timeout", defaults.Backends.OpenAI.Timeout.String())

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.format", defaults.Log.Format)
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(viper.GetString(key)); err == nil {
		return d
	}
	return fallback
}
