package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yomikawa/danmu-tts/internal/cache"
)

// fakeBackend is a controllable in-process backend for manager and registry
// tests. Audio is a deterministic function of text and voice so cache-hit
// assertions can compare bytes.
type fakeBackend struct {
	name        string
	available   atomic.Bool
	initErr     error
	synthErr    error
	synthDelay  time.Duration
	synthesized atomic.Int64
}

func newFakeBackend(name string) *fakeBackend {
	b := &fakeBackend{name: name}
	b.available.Store(true)
	return b
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Initialize(ctx context.Context) error { return b.initErr }

func (b *fakeBackend) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	if b.synthDelay > 0 {
		time.Sleep(b.synthDelay)
	}
	if b.synthErr != nil {
		return nil, b.synthErr
	}
	b.synthesized.Add(1)
	voice := req.Voice
	if voice == "" {
		voice = b.name + "-default"
	}
	sum := sha256.Sum256([]byte(b.name + "|" + req.Text + "|" + voice))
	return &SynthesisResult{
		Audio:      sum[:],
		Backend:    b.name,
		Voice:      voice,
		Format:     req.Format,
		SampleRate: req.SampleRate,
		Duration:   EstimateDuration(req.Text),
	}, nil
}

func (b *fakeBackend) SynthesizeStream(ctx context.Context, req SynthesisRequest) (<-chan StreamChunk, error) {
	result, err := b.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return ChunkStream(ctx, result.Audio, req.ChunkSize), nil
}

func (b *fakeBackend) Voices(ctx context.Context) ([]Voice, error) {
	return []Voice{{ID: b.name + "-v1", Name: "Test Voice", Backend: b.name}}, nil
}

func (b *fakeBackend) Status() BackendStatus {
	return BackendStatus{Name: b.name, Enabled: true, Available: b.available.Load()}
}

func (b *fakeBackend) Shutdown() error { return nil }

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestManager(t *testing.T, backends ...Backend) *Manager {
	t.Helper()

	registry, err := NewRegistry(context.Background(), backends, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	store := cache.NewMemoryCache(cache.DefaultConfig())
	t.Cleanup(func() { store.Close() })

	cfg := DefaultManagerConfig()
	cfg.PrimaryBackend = backends[0].Name()
	cfg.FallbackBackends = nil
	for _, b := range backends[1:] {
		cfg.FallbackBackends = append(cfg.FallbackBackends, b.Name())
	}
	cfg.QualityHigh = nil
	cfg.QualityLow = nil

	return NewManager(cfg, registry, store, testLogger())
}

func TestGenerateCachesSecondRequest(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)
	ctx := context.Background()

	req := SynthesisRequest{Text: "hello world", Voice: "v1"}

	first, err := mgr.Generate(ctx, req)
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if first.Cached {
		t.Error("first request reported as cached")
	}
	if first.Backend != "alpha" {
		t.Errorf("first backend = %q, want alpha", first.Backend)
	}

	second, err := mgr.Generate(ctx, req)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if !second.Cached {
		t.Error("second identical request not served from cache")
	}
	if second.Backend != "cache" {
		t.Errorf("second backend = %q, want cache", second.Backend)
	}
	if !bytes.Equal(first.Audio, second.Audio) {
		t.Error("cached audio differs from originally synthesized audio")
	}
	if n := backend.synthesized.Load(); n != 1 {
		t.Errorf("backend synthesized %d times, want 1", n)
	}

	stats := mgr.Stats()
	if stats.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", stats.TotalRequests)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
	if stats.CacheHitRate != 50 {
		t.Errorf("CacheHitRate = %v, want 50", stats.CacheHitRate)
	}
}

func TestGenerateDistinctParamsDistinctEntries(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)
	ctx := context.Background()

	a, err := mgr.Generate(ctx, SynthesisRequest{Text: "same text", Voice: "v1"})
	if err != nil {
		t.Fatalf("Generate v1: %v", err)
	}
	b, err := mgr.Generate(ctx, SynthesisRequest{Text: "same text", Voice: "v2"})
	if err != nil {
		t.Fatalf("Generate v2: %v", err)
	}

	if b.Cached {
		t.Error("different voice served from cache")
	}
	if bytes.Equal(a.Audio, b.Audio) {
		t.Error("different voices produced identical audio")
	}
}

func TestGenerateFallsBackWhenPrimaryUnavailable(t *testing.T) {
	primary := newFakeBackend("alpha")
	fallback := newFakeBackend("beta")
	primary.available.Store(false)
	mgr := newTestManager(t, primary, fallback)

	result, err := mgr.Generate(context.Background(), SynthesisRequest{Text: "fall back"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Backend != "beta" {
		t.Errorf("backend = %q, want beta", result.Backend)
	}
}

func TestGenerateNoBackendAvailable(t *testing.T) {
	primary := newFakeBackend("alpha")
	fallback := newFakeBackend("beta")
	primary.available.Store(false)
	fallback.available.Store(false)
	mgr := newTestManager(t, primary, fallback)

	_, err := mgr.Generate(context.Background(), SynthesisRequest{Text: "nobody home"})
	if !errors.Is(err, ErrNoBackendAvailable) {
		t.Fatalf("err = %v, want ErrNoBackendAvailable", err)
	}
}

func TestGenerateExplicitBackendNeverFallsBack(t *testing.T) {
	primary := newFakeBackend("alpha")
	other := newFakeBackend("beta")
	primary.available.Store(false)
	mgr := newTestManager(t, primary, other)

	_, err := mgr.Generate(context.Background(), SynthesisRequest{Text: "pin me", Backend: "alpha"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}

	_, err = mgr.Generate(context.Background(), SynthesisRequest{Text: "pin me", Backend: "gamma"})
	if !errors.Is(err, ErrBackendNotFound) {
		t.Fatalf("err = %v, want ErrBackendNotFound", err)
	}
}

func TestGenerateQualityPriorityOrder(t *testing.T) {
	alpha := newFakeBackend("alpha")
	beta := newFakeBackend("beta")

	registry, err := NewRegistry(context.Background(), []Backend{alpha, beta}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := cache.NewMemoryCache(cache.DefaultConfig())
	t.Cleanup(func() { store.Close() })

	cfg := DefaultManagerConfig()
	cfg.PrimaryBackend = "alpha"
	cfg.FallbackBackends = []string{"beta"}
	cfg.QualityHigh = []string{"beta", "alpha"}
	cfg.QualityLow = []string{"alpha", "beta"}
	mgr := NewManager(cfg, registry, store, testLogger())

	result, err := mgr.Generate(context.Background(), SynthesisRequest{Text: "quality routing", Quality: "high"})
	if err != nil {
		t.Fatalf("Generate high: %v", err)
	}
	if result.Backend != "beta" {
		t.Errorf("high quality backend = %q, want beta", result.Backend)
	}

	// "fast" is an accepted alias of the low tier.
	result, err = mgr.Generate(context.Background(), SynthesisRequest{Text: "speed routing", Quality: "fast"})
	if err != nil {
		t.Fatalf("Generate fast: %v", err)
	}
	if result.Backend != "alpha" {
		t.Errorf("fast quality backend = %q, want alpha", result.Backend)
	}
}

func TestGenerateValidation(t *testing.T) {
	mgr := newTestManager(t, newFakeBackend("alpha"))
	ctx := context.Background()

	cases := []struct {
		name string
		req  SynthesisRequest
		want error
	}{
		{"empty text", SynthesisRequest{Text: ""}, ErrEmptyText},
		{"whitespace text", SynthesisRequest{Text: "   \n\t "}, ErrEmptyText},
		{"unknown quality", SynthesisRequest{Text: "ok", Quality: "ultra"}, ErrInvalidQuality},
	}
	for _, tc := range cases {
		_, err := mgr.Generate(ctx, tc.req)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: not classified as invalid request", tc.name)
		}
	}

	// Rejected requests never count toward the totals.
	if stats := mgr.Stats(); stats.TotalRequests != 0 {
		t.Errorf("TotalRequests = %d after rejected requests, want 0", stats.TotalRequests)
	}
}

func TestGenerateTextTooLong(t *testing.T) {
	mgr := newTestManager(t, newFakeBackend("alpha"))

	long := make([]rune, mgr.cfg.MaxTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := mgr.Generate(context.Background(), SynthesisRequest{Text: string(long)})
	if !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("err = %v, want ErrTextTooLong", err)
	}
}

func TestGenerateBackendFailureCountsRequest(t *testing.T) {
	backend := newFakeBackend("alpha")
	backend.synthErr = NewBackendError("alpha", "synthesize", ErrSynthesisFailed)
	mgr := newTestManager(t, backend)

	_, err := mgr.Generate(context.Background(), SynthesisRequest{Text: "will fail"})
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}

	stats := mgr.Stats()
	if stats.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", stats.TotalRequests)
	}
	if n := stats.BackendUsage["alpha"]; n != 0 {
		t.Errorf("failed synthesis counted as usage: %d", n)
	}
}

func TestGenerateCanceledRequestStillCaches(t *testing.T) {
	backend := newFakeBackend("alpha")
	backend.synthDelay = 50 * time.Millisecond
	mgr := newTestManager(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	req := SynthesisRequest{Text: "abandoned but useful"}
	if _, err := mgr.Generate(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}

	// The detached synthesis finishes and populates the cache.
	deadline := time.Now().Add(2 * time.Second)
	for {
		result, err := mgr.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("retry Generate: %v", err)
		}
		if result.Cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached synthesis never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGenerateCacheHitKeepsResolvedMetadata(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)
	ctx := context.Background()

	// No voice in the request: the backend resolves its default.
	req := SynthesisRequest{Text: "use the default voice"}
	first, err := mgr.Generate(ctx, req)
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if first.Voice != "alpha-default" {
		t.Fatalf("miss voice = %q, want alpha-default", first.Voice)
	}

	second, err := mgr.Generate(ctx, req)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if !second.Cached {
		t.Fatal("second request not served from cache")
	}
	if second.Voice != first.Voice {
		t.Errorf("hit voice = %q, miss voice = %q", second.Voice, first.Voice)
	}
	if second.Format != first.Format || second.SampleRate != first.SampleRate {
		t.Errorf("hit metadata = %s/%d, miss = %s/%d",
			second.Format, second.SampleRate, first.Format, first.SampleRate)
	}
}

func TestStreamHonorsConfiguredChunkSize(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)
	mgr.cfg.ChunkSize = 8
	ctx := context.Background()

	checkChunks := func(label string, stream <-chan StreamChunk) {
		t.Helper()
		var count int
		for chunk := range stream {
			if chunk.Err != nil {
				t.Fatalf("%s: stream error: %v", label, chunk.Err)
			}
			if len(chunk.Data) > 8 {
				t.Errorf("%s: chunk of %d bytes exceeds configured size 8", label, len(chunk.Data))
			}
			count++
		}
		// Fake audio is a 32-byte digest, so 8-byte chunks mean four of them.
		if count != 4 {
			t.Errorf("%s: got %d chunks, want 4", label, count)
		}
	}

	// Miss path: the backend chunks with the size the manager threaded in.
	stream, err := mgr.Stream(ctx, SynthesisRequest{Text: "fresh stream"})
	if err != nil {
		t.Fatalf("Stream miss: %v", err)
	}
	checkChunks("miss", stream)

	// Hit path: the cached buffer is chunked with the same size.
	req := SynthesisRequest{Text: "cached stream"}
	if _, err := mgr.Generate(ctx, req); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	stream, err = mgr.Stream(ctx, req)
	if err != nil {
		t.Fatalf("Stream hit: %v", err)
	}
	checkChunks("hit", stream)
}

func TestStreamServesCacheHit(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)
	ctx := context.Background()

	req := SynthesisRequest{Text: "stream me"}
	result, err := mgr.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	stream, err := mgr.Stream(ctx, req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var got []byte
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		got = append(got, chunk.Data...)
	}
	if !bytes.Equal(got, result.Audio) {
		t.Error("streamed cache hit differs from stored audio")
	}
	if n := backend.synthesized.Load(); n != 1 {
		t.Errorf("backend synthesized %d times, want 1", n)
	}
}

func TestStreamMissDoesNotCache(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)
	ctx := context.Background()

	req := SynthesisRequest{Text: "ephemeral"}
	stream, err := mgr.Stream(ctx, req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range stream {
	}

	result, err := mgr.Generate(ctx, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Cached {
		t.Error("streamed miss populated the cache")
	}
}

func TestVoicesAggregatesBackends(t *testing.T) {
	mgr := newTestManager(t, newFakeBackend("alpha"), newFakeBackend("beta"))

	voices, err := mgr.Voices(context.Background(), "")
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}

	voices, err = mgr.Voices(context.Background(), "beta")
	if err != nil {
		t.Fatalf("Voices(beta): %v", err)
	}
	if len(voices) != 1 || voices[0].Backend != "beta" {
		t.Errorf("Voices(beta) = %+v", voices)
	}

	if _, err := mgr.Voices(context.Background(), "gamma"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("unknown backend err = %v, want ErrBackendNotFound", err)
	}
}

func TestGenerateConcurrent(t *testing.T) {
	backend := newFakeBackend("alpha")
	mgr := newTestManager(t, backend)

	const goroutines = 8
	const perGoroutine = 20

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				req := SynthesisRequest{Text: fmt.Sprintf("line %d", i%5), Voice: "v1"}
				if _, err := mgr.Generate(context.Background(), req); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Generate: %v", err)
	}

	stats := mgr.Stats()
	if stats.TotalRequests != goroutines*perGoroutine {
		t.Errorf("TotalRequests = %d, want %d", stats.TotalRequests, goroutines*perGoroutine)
	}
}
