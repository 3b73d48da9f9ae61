package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"unknown primary", func(c *Config) { c.TTS.PrimaryBackend = "festival" }, "primary backend"},
		{"unknown fallback", func(c *Config) { c.TTS.FallbackBackends = []string{"espeak"} }, "routing list"},
		{"bad cache type", func(c *Config) { c.Cache.Type = "tape" }, "cache type"},
		{"disk without dir", func(c *Config) { c.Cache.Type = "disk"; c.Cache.Dir = "" }, "cache.dir"},
		{"bad compression", func(c *Config) { c.Cache.Compression = 9 }, "compression"},
		{"bad failure rate", func(c *Config) { c.Backends.Mock.FailureRate = 1.5 }, "failure_rate"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"zero text length", func(c *Config) { c.TTS.MaxTextLength = 0 }, "max_text_length"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate accepted bad config", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestFromViperOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("server.port", 9090)
	viper.Set("tts.primary_backend", "xtts")
	viper.Set("tts.fallback_backends", []string{"edge"})
	viper.Set("cache.type", "disk")
	viper.Set("cache.dir", "/tmp/tts-cache")
	viper.Set("cache.ttl", "30m")
	viper.Set("backends.piper.enabled", true)
	viper.Set("backends.piper.model_dir", "/opt/piper/models")

	cfg := FromViper()

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.TTS.PrimaryBackend != "xtts" {
		t.Errorf("primary = %q, want xtts", cfg.TTS.PrimaryBackend)
	}
	if len(cfg.TTS.FallbackBackends) != 1 || cfg.TTS.FallbackBackends[0] != "edge" {
		t.Errorf("fallbacks = %v, want [edge]", cfg.TTS.FallbackBackends)
	}
	if cfg.Cache.Type != "disk" || cfg.Cache.Dir != "/tmp/tts-cache" {
		t.Errorf("cache = %q %q", cfg.Cache.Type, cfg.Cache.Dir)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", cfg.Cache.TTL)
	}
	if !cfg.Backends.Piper.Enabled || cfg.Backends.Piper.ModelDir != "/opt/piper/models" {
		t.Errorf("piper = %+v", cfg.Backends.Piper)
	}

	// Untouched keys keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if cfg.Backends.Edge.Voice != "zh-CN-XiaoxiaoNeural" {
		t.Errorf("edge voice = %q, want default", cfg.Backends.Edge.Voice)
	}
}

func TestEnabledBackends(t *testing.T) {
	cfg := Default()
	cfg.Backends.Piper.Enabled = true
	cfg.Backends.Mock.Enabled = true

	got := cfg.EnabledBackends()
	want := []string{"edge", "piper", "mock"}
	if len(got) != len(want) {
		t.Fatalf("EnabledBackends = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EnabledBackends[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestToCacheConfigParsesSize(t *testing.T) {
	c := Default().Cache
	c.MaxSize = "64MB"

	cfg, err := c.ToCacheConfig()
	if err != nil {
		t.Fatalf("ToCacheConfig: %v", err)
	}
	if cfg.MaxSizeBytes != 64*1000*1000 {
		t.Errorf("MaxSizeBytes = %d, want 64MB", cfg.MaxSizeBytes)
	}

	c.MaxSize = "lots"
	if _, err := c.ToCacheConfig(); err == nil {
		t.Error("unparseable size accepted")
	}
}
