package backends

import (
	"context"
	"crypto/sha256"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

// MockConfig controls the simulated behavior of the mock backend.
type MockConfig struct {
	// Name overrides the registry name. Defaults to "mock".
	Name string

	// GenerationDelay is the simulated synthesis latency.
	GenerationDelay time.Duration

	// FailureRate in [0,1] makes that fraction of Synthesize calls fail.
	FailureRate float64

	// Voices overrides the advertised voice catalog.
	Voices []tts.Voice
}

// Mock is a deterministic in-process backend. The audio bytes are a pure
// function of text and voice, so tests can assert byte-identical cache hits
// without real synthesis.
type Mock struct {
	cfg         MockConfig
	name        string
	initialized atomic.Bool
	available   atomic.Bool
	inflight    atomic.Int64
	calls       atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock creates a mock backend.
func NewMock(cfg MockConfig) *Mock {
	name := cfg.Name
	if name == "" {
		name = "mock"
	}
	return &Mock{
		cfg:  cfg,
		name: name,
		rng:  rand.New(rand.NewSource(1)),
	}
}

func (m *Mock) Name() string { return m.name }

// Initialize marks the backend available.
func (m *Mock) Initialize(ctx context.Context) error {
	m.initialized.Store(true)
	m.available.Store(true)
	return nil
}

// Synthesize produces deterministic pseudo-audio for req.
func (m *Mock) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if !m.initialized.Load() {
		return nil, tts.ErrNotInitialized
	}
	m.inflight.Add(1)
	defer m.inflight.Add(-1)
	m.calls.Add(1)

	if m.cfg.GenerationDelay > 0 {
		select {
		case <-time.After(m.cfg.GenerationDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.cfg.FailureRate > 0 {
		m.mu.Lock()
		fail := m.rng.Float64() < m.cfg.FailureRate
		m.mu.Unlock()
		if fail {
			return nil, tts.NewBackendError(m.name, "synthesize", tts.ErrSynthesisFailed)
		}
	}

	duration := tts.EstimateDuration(req.Text)
	return &tts.SynthesisResult{
		Audio:      m.render(req, duration),
		Backend:    m.name,
		Voice:      req.Voice,
		Format:     req.Format,
		SampleRate: req.SampleRate,
		Duration:   duration,
	}, nil
}

// SynthesizeStream synthesizes fully and chunks the buffer.
func (m *Mock) SynthesizeStream(ctx context.Context, req tts.SynthesisRequest) (<-chan tts.StreamChunk, error) {
	result, err := m.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return tts.ChunkStream(ctx, result.Audio, req.ChunkSize), nil
}

// Voices returns the configured or default catalog.
func (m *Mock) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !m.initialized.Load() {
		return nil, tts.ErrNotInitialized
	}
	if len(m.cfg.Voices) > 0 {
		return m.cfg.Voices, nil
	}
	return []tts.Voice{
		{ID: "mock-neutral", Name: "Mock Neutral", Language: "en-US", Gender: "neutral", Backend: m.name},
		{ID: "mock-female", Name: "Mock Female", Language: "en-GB", Gender: "female", Backend: m.name},
	}, nil
}

// Status reports the simulated health.
func (m *Mock) Status() tts.BackendStatus {
	return tts.BackendStatus{
		Name:      m.name,
		Enabled:   true,
		Available: m.available.Load(),
		QueueSize: int(m.inflight.Load()),
	}
}

// Shutdown marks the backend unavailable.
func (m *Mock) Shutdown() error {
	m.available.Store(false)
	return nil
}

// SetAvailable flips the advertised availability. Test control only.
func (m *Mock) SetAvailable(available bool) {
	m.available.Store(available)
}

// Calls returns how many Synthesize calls reached this backend.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

// render derives pseudo-audio whose length scales with the estimated
// duration, seeded entirely by the request parameters.
func (m *Mock) render(req tts.SynthesisRequest, duration time.Duration) []byte {
	seed := sha256.Sum256([]byte(m.name + "\x00" + req.Text + "\x00" + req.Voice + "\x00" + req.Format))

	size := int(duration.Seconds() * 1000)
	if size < len(seed) {
		size = len(seed)
	}

	audio := make([]byte, 0, size)
	block := seed
	for len(audio) < size {
		audio = append(audio, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return audio[:size]
}
