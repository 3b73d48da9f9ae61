package tts

import (
	"bytes"
	"context"
	"encoding/gob"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yomikawa/danmu-tts/internal/cache"
)

// cacheBackendName labels results served from the cache in stats and
// responses, so consumers can distinguish a hit from fresh synthesis.
const cacheBackendName = "cache"

// cacheEntry is the stored payload per fingerprint: the audio plus the
// metadata resolved during synthesis, so a hit reports the same voice and
// format the original synthesis did even when the request left them to the
// backend's defaults.
type cacheEntry struct {
	Audio      []byte
	Voice      string
	Format     string
	SampleRate int
}

func encodeCacheEntry(entry cacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCacheEntry(payload []byte) (cacheEntry, error) {
	var entry cacheEntry
	err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&entry)
	return entry, err
}

// ManagerConfig controls request routing and normalization defaults.
type ManagerConfig struct {
	// PrimaryBackend handles requests with no quality hint and no explicit
	// backend. FallbackBackends are tried in order when it is unavailable.
	PrimaryBackend   string
	FallbackBackends []string

	// QualityHigh and QualityLow are full priority orders for their tiers.
	// Medium uses the primary/fallback order.
	QualityHigh []string
	QualityLow  []string

	MaxTextLength     int
	ChunkSize         int
	DefaultFormat     string
	DefaultSampleRate int
	CacheEnabled      bool
}

// DefaultManagerConfig mirrors the server's stock routing: edge is the
// cheap, always-on primary; xtts is reserved for the high tier.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PrimaryBackend:    "edge",
		FallbackBackends:  []string{"piper", "xtts"},
		QualityHigh:       []string{"xtts", "edge", "piper"},
		QualityLow:        []string{"edge", "piper", "xtts"},
		MaxTextLength:     1000,
		ChunkSize:         DefaultChunkSize,
		DefaultFormat:     "mp3",
		DefaultSampleRate: 24000,
		CacheEnabled:      true,
	}
}

// Manager routes synthesis requests through validation, the cache, and
// backend selection. One Manager serves the whole process; all methods are
// safe for concurrent use.
type Manager struct {
	cfg      ManagerConfig
	registry *Registry
	store    cache.Store
	logger   *log.Logger

	startedAt     time.Time
	totalRequests atomic.Int64
	cacheHits     atomic.Int64

	usageMu sync.Mutex
	usage   map[string]int64
}

// NewManager wires a registry and cache store into a request router.
func NewManager(cfg ManagerConfig, registry *Registry, store cache.Store, logger *log.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		logger:    logger,
		startedAt: time.Now(),
		usage:     make(map[string]int64),
	}
}

// Generate synthesizes req, serving from cache when possible. A cache hit
// returns Cached=true with backend "cache" and byte-identical audio to the
// original synthesis. Synthesis that is already underway when ctx is
// canceled still completes and populates the cache for the next caller.
func (m *Manager) Generate(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	req, err := m.normalize(req)
	if err != nil {
		return nil, err
	}
	m.totalRequests.Add(1)

	key := m.cacheKey(req)
	if m.cfg.CacheEnabled {
		if entry, ok := m.cacheLookup(ctx, key); ok {
			m.cacheHits.Add(1)
			return &SynthesisResult{
				Audio:      entry.Audio,
				Backend:    cacheBackendName,
				Voice:      entry.Voice,
				Format:     entry.Format,
				SampleRate: entry.SampleRate,
				Duration:   EstimateDuration(req.Text),
				Cached:     true,
			}, nil
		}
	}

	backend, err := m.selectBackend(req)
	if err != nil {
		return nil, err
	}

	// Synthesis runs detached from the request context: a caller that gives
	// up mid-synthesis does not waste the work, the result still lands in
	// the cache for the next request.
	synthCtx := context.WithoutCancel(ctx)
	type outcome struct {
		result *SynthesisResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := backend.Synthesize(synthCtx, req)
		if err == nil && m.cfg.CacheEnabled {
			payload, cerr := encodeCacheEntry(cacheEntry{
				Audio:      result.Audio,
				Voice:      result.Voice,
				Format:     result.Format,
				SampleRate: result.SampleRate,
			})
			if cerr == nil {
				cerr = m.store.Set(synthCtx, key, payload)
			}
			if cerr != nil {
				m.logger.Warn("cache write failed", "key", key,
					"backend", backend.Name(), "err", cerr)
			}
		}
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		m.recordUsage(backend.Name())
		return out.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream synthesizes req as a progressive chunk sequence. A cache hit is
// streamed from the stored buffer; a miss streams directly from the backend
// and is not cached, streaming output favors latency over memoization.
func (m *Manager) Stream(ctx context.Context, req SynthesisRequest) (<-chan StreamChunk, error) {
	req, err := m.normalize(req)
	if err != nil {
		return nil, err
	}
	m.totalRequests.Add(1)

	if m.cfg.CacheEnabled {
		if entry, ok := m.cacheLookup(ctx, m.cacheKey(req)); ok {
			m.cacheHits.Add(1)
			return ChunkStream(ctx, entry.Audio, req.ChunkSize), nil
		}
	}

	backend, err := m.selectBackend(req)
	if err != nil {
		return nil, err
	}

	stream, err := backend.SynthesizeStream(ctx, req)
	if err != nil {
		return nil, err
	}
	m.recordUsage(backend.Name())
	return stream, nil
}

// Voices returns the voice catalog of one backend, or of all registered
// backends when backendName is empty.
func (m *Manager) Voices(ctx context.Context, backendName string) ([]Voice, error) {
	if backendName != "" {
		backend, ok := m.registry.Get(backendName)
		if !ok {
			return nil, ErrBackendNotFound
		}
		return backend.Voices(ctx)
	}

	var all []Voice
	for _, backend := range m.registry.All() {
		voices, err := backend.Voices(ctx)
		if err != nil {
			m.logger.Warn("voice listing failed", "backend", backend.Name(), "err", err)
			continue
		}
		all = append(all, voices...)
	}
	return all, nil
}

// BackendStatus snapshots every registered backend.
func (m *Manager) BackendStatus() []BackendStatus {
	backends := m.registry.All()
	statuses := make([]BackendStatus, 0, len(backends))
	for _, backend := range backends {
		statuses = append(statuses, backend.Status())
	}
	return statuses
}

// Stats snapshots the process-wide counters.
func (m *Manager) Stats() ServerStats {
	total := m.totalRequests.Load()
	hits := m.cacheHits.Load()

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	m.usageMu.Lock()
	usage := make(map[string]int64, len(m.usage))
	for name, n := range m.usage {
		usage[name] = n
	}
	m.usageMu.Unlock()

	return ServerStats{
		Uptime:        time.Since(m.startedAt),
		TotalRequests: total,
		CacheHits:     hits,
		CacheHitRate:  hitRate,
		BackendUsage:  usage,
		Backends:      m.BackendStatus(),
		Cache:         m.store.Stats(),
	}
}

// ClearCache drops every cached synthesis result.
func (m *Manager) ClearCache(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Shutdown stops all backends and closes the cache store.
func (m *Manager) Shutdown() error {
	err := m.registry.Shutdown()
	if cerr := m.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// normalize validates req and fills defaults, returning a cleaned copy.
func (m *Manager) normalize(req SynthesisRequest) (SynthesisRequest, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return req, ErrEmptyText
	}
	if m.cfg.MaxTextLength > 0 && len([]rune(req.Text)) > m.cfg.MaxTextLength {
		return req, ErrTextTooLong
	}

	quality, ok := NormalizeQuality(string(req.Quality))
	if !ok {
		return req, ErrInvalidQuality
	}
	req.Quality = quality

	if req.Format == "" {
		req.Format = m.cfg.DefaultFormat
	}
	if req.SampleRate == 0 {
		req.SampleRate = m.cfg.DefaultSampleRate
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = m.cfg.ChunkSize
	}
	return req, nil
}

// cacheLookup fetches and decodes one entry. Read failures and corrupt
// entries degrade to a miss; the cache never fails a request.
func (m *Manager) cacheLookup(ctx context.Context, key string) (cacheEntry, bool) {
	payload, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache read failed", "key", key, "err", err)
		return cacheEntry{}, false
	}
	if !ok {
		return cacheEntry{}, false
	}
	entry, err := decodeCacheEntry(payload)
	if err != nil {
		m.logger.Warn("cache entry corrupt", "key", key, "err", err)
		return cacheEntry{}, false
	}
	return entry, true
}

// cacheKey derives the deterministic fingerprint of a normalized request.
// Every field that changes the produced audio participates; two requests
// differing only in fields outside this set share an entry.
func (m *Manager) cacheKey(req SynthesisRequest) string {
	return cache.Fingerprint(map[string]string{
		"text":        req.Text,
		"voice":       req.Voice,
		"backend":     req.Backend,
		"quality":     string(req.Quality),
		"format":      req.Format,
		"sample_rate": strconv.Itoa(req.SampleRate),
	})
}

// selectBackend resolves req onto a live, available backend. An explicitly
// named backend is authoritative: if it is missing or unhealthy the request
// fails rather than silently landing on a different engine.
func (m *Manager) selectBackend(req SynthesisRequest) (Backend, error) {
	if req.Backend != "" {
		backend, ok := m.registry.Get(req.Backend)
		if !ok {
			return nil, ErrBackendNotFound
		}
		if !backend.Status().Available {
			return nil, ErrBackendUnavailable
		}
		return backend, nil
	}

	for _, name := range m.priorityOrder(req.Quality) {
		backend, ok := m.registry.Get(name)
		if !ok {
			continue
		}
		if backend.Status().Available {
			return backend, nil
		}
	}
	return nil, ErrNoBackendAvailable
}

// priorityOrder returns the candidate backend names for a quality tier.
func (m *Manager) priorityOrder(quality Quality) []string {
	switch quality {
	case QualityHigh:
		if len(m.cfg.QualityHigh) > 0 {
			return m.cfg.QualityHigh
		}
	case QualityLow:
		if len(m.cfg.QualityLow) > 0 {
			return m.cfg.QualityLow
		}
	}
	order := make([]string, 0, 1+len(m.cfg.FallbackBackends))
	if m.cfg.PrimaryBackend != "" {
		order = append(order, m.cfg.PrimaryBackend)
	}
	order = append(order, m.cfg.FallbackBackends...)
	return order
}

func (m *Manager) recordUsage(backend string) {
	m.usageMu.Lock()
	m.usage[backend]++
	m.usageMu.Unlock()
}
