// Package tts contains the backend-orchestration core: the capability
// contract all synthesis backends satisfy, the registry of live backends,
// the manager that routes requests through cache and backend selection, and
// the chunker that turns audio buffers into progressive byte streams.
package tts

import (
	"strings"
	"time"
	"unicode"

	"github.com/yomikawa/danmu-tts/internal/cache"
)

// Quality is a coarse fidelity hint used to order backend preference.
type Quality string

// Quality tiers. "fast" is accepted as an alias of low.
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// NormalizeQuality maps a raw quality string onto a known tier. An empty
// string means "unspecified" and is left empty so selection can fall back to
// the configured primary/fallback order.
func NormalizeQuality(raw string) (Quality, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", true
	case "low", "fast":
		return QualityLow, true
	case "medium":
		return QualityMedium, true
	case "high":
		return QualityHigh, true
	default:
		return "", false
	}
}

// SynthesisRequest describes one text-to-speech request. Immutable once
// constructed; the manager normalizes a copy rather than mutating the
// caller's value.
type SynthesisRequest struct {
	Text       string  // Required, non-empty after trimming
	Voice      string  // Optional voice identifier
	Backend    string  // Optional explicit backend name; never falls back
	Quality    Quality // Optional fidelity hint
	Format     string  // Target container/codec, e.g. "mp3", "wav"
	SampleRate int     // Target sample rate in Hz

	// ChunkSize bounds streamed chunks. Filled from config by the manager;
	// never affects the audio bytes, so it stays out of the cache key.
	ChunkSize int
}

// SynthesisResult is the outcome of one successful synthesis or cache hit.
// Ownership of Audio transfers to the caller; the result is never mutated
// after construction.
type SynthesisResult struct {
	Audio      []byte
	Backend    string // Producing backend, or "cache" on a hit
	Voice      string
	Format     string
	SampleRate int
	Duration   time.Duration // Word-count estimate, not decoded length
	Cached     bool
}

// Voice is a read-only descriptor of one synthesizer voice.
type Voice struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Language string  `json:"language"`
	Gender   string  `json:"gender"`
	Backend  string  `json:"backend"`
	Quality  Quality `json:"quality"`
}

// BackendStatus is a point-in-time snapshot of one backend's health.
// Recomputed on demand from the backend's last health evidence; never
// persisted.
type BackendStatus struct {
	Name      string  `json:"name"`
	Enabled   bool    `json:"enabled"`
	Available bool    `json:"available"`
	Load      float64 `json:"load"`       // [0,1]
	QueueSize int     `json:"queue_size"` // In-flight synthesis calls
}

// ServerStats aggregates process-wide counters for the stats endpoint.
type ServerStats struct {
	Uptime        time.Duration    `json:"uptime"`
	TotalRequests int64            `json:"total_requests"`
	CacheHits     int64            `json:"cache_hits"`
	CacheHitRate  float64          `json:"cache_hit_rate"` // Percent
	BackendUsage  map[string]int64 `json:"backend_usage"`
	Backends      []BackendStatus  `json:"backends"`
	Cache         cache.Stats      `json:"cache"`
}

// StreamChunk is one bounded slice of a progressive audio stream.
type StreamChunk struct {
	Data  []byte
	Final bool  // Set on the last chunk of the stream
	Err   error // Terminal; no chunks follow a non-nil Err
}

// wordsPerMinute drives the duration estimate. The original system never
// decodes audio to measure real length; the heuristic is good enough for
// queue pacing on the consumer side.
const wordsPerMinute = 150

// EstimateDuration estimates speaking time from the text alone. CJK scripts
// have no spaces, so ideographs count as one word each.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
			words++
		}
	}
	if words == 0 {
		return 0
	}
	return time.Duration(float64(words) / wordsPerMinute * float64(time.Minute))
}
