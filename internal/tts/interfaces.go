package tts

import "context"

// Backend is the capability contract every synthesis engine satisfies. The
// core never depends on how a backend produces audio (cloud API, subprocess,
// model inference); it only requires these semantics:
//
//   - Initialize leaves the backend in a deterministic available or
//     unavailable state and never partially initializes.
//   - Status is side-effect-free and fast: availability derives from the
//     last successful health evidence, never a fresh probe.
//   - Voice catalogs may be cached with a freshness window; a stale but
//     previously fetched catalog beats an error.
//   - Shutdown is idempotent.
type Backend interface {
	// Name returns the registry name of this backend.
	Name() string

	// Initialize performs one-time setup: connectivity probe, binary
	// discovery, voice catalog load. A failed Initialize leaves the
	// backend unavailable; it does not panic into caller code paths.
	Initialize(ctx context.Context) error

	// Synthesize converts text to a complete audio buffer. It fails with
	// ErrNotInitialized or ErrBackendUnavailable when unhealthy,
	// ErrInvalidVoice for unknown voice ids, and wraps everything else in
	// ErrSynthesisFailed. A successful result is never zero-length.
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)

	// SynthesizeStream produces a finite, single-consumption chunk
	// sequence. Backends without native incremental output synthesize
	// fully and chunk the buffer; callers cannot tell the difference.
	SynthesizeStream(ctx context.Context, req SynthesisRequest) (<-chan StreamChunk, error)

	// Voices returns the backend's voice catalog.
	Voices(ctx context.Context) ([]Voice, error)

	// Status reports health from the last successful evidence. No I/O.
	Status() BackendStatus

	// Shutdown releases exclusive resources. Safe to call repeatedly.
	Shutdown() error
}
