package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

// XTTSConfig configures the client for a local XTTS inference server.
type XTTSConfig struct {
	BaseURL        string        // e.g. "http://127.0.0.1:8020"
	DefaultSpeaker string        // Speaker used when the request names none
	Language       string        // BCP-47 tag passed to the model, e.g. "zh-cn"
	Timeout        time.Duration // Per-synthesis budget; model inference is slow
}

// XTTS talks to an XTTS inference server over HTTP. The model runs out of
// process so a GPU box can serve it independently of this server's lifecycle.
type XTTS struct {
	cfg    XTTSConfig
	client *http.Client

	health   health
	inflight atomic.Int64

	speakers []tts.Voice
}

// NewXTTS creates the XTTS backend.
func NewXTTS(cfg XTTSConfig) *XTTS {
	if cfg.Language == "" {
		cfg.Language = "zh-cn"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &XTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (x *XTTS) Name() string { return "xtts" }

// Initialize probes the inference server and loads its speaker list.
func (x *XTTS) Initialize(ctx context.Context) error {
	if x.cfg.BaseURL == "" {
		return tts.NewBackendError(x.Name(), "initialize", fmt.Errorf("base URL not configured"))
	}

	if err := x.getJSON(ctx, "/health", nil); err != nil {
		return tts.NewBackendError(x.Name(), "initialize", fmt.Errorf("health probe: %w", err))
	}

	var names []string
	if err := x.getJSON(ctx, "/speakers", &names); err != nil {
		return tts.NewBackendError(x.Name(), "initialize", fmt.Errorf("speaker list: %w", err))
	}

	x.speakers = make([]tts.Voice, 0, len(names))
	for _, name := range names {
		x.speakers = append(x.speakers, tts.Voice{
			ID:       name,
			Name:     name,
			Language: x.cfg.Language,
			Backend:  x.Name(),
			Quality:  tts.QualityHigh,
		})
	}

	x.health.markReady()
	return nil
}

// xttsRequest is the synthesis request body the inference server accepts.
type xttsRequest struct {
	Text     string `json:"text"`
	Speaker  string `json:"speaker"`
	Language string `json:"language"`
}

// Synthesize posts one synthesis request and reads the audio body.
func (x *XTTS) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if !x.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	x.inflight.Add(1)
	defer x.inflight.Add(-1)

	speaker := req.Voice
	if speaker == "" {
		speaker = x.cfg.DefaultSpeaker
	}

	body, err := json.Marshal(xttsRequest{
		Text:     req.Text,
		Speaker:  speaker,
		Language: x.cfg.Language,
	})
	if err != nil {
		return nil, tts.NewBackendError(x.Name(), "synthesize", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.BaseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, tts.NewBackendError(x.Name(), "synthesize", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(httpReq)
	if err != nil {
		// A canceled caller is not evidence against the server.
		if ctx.Err() == nil {
			x.health.markFailure()
		}
		return nil, tts.NewBackendError(x.Name(), "synthesize",
			fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, tts.NewBackendError(x.Name(), "synthesize",
			fmt.Errorf("%w: %q", tts.ErrInvalidVoice, speaker))
	}
	if resp.StatusCode != http.StatusOK {
		x.health.markFailure()
		return nil, tts.NewBackendError(x.Name(), "synthesize",
			fmt.Errorf("%w: status %d", tts.ErrSynthesisFailed, resp.StatusCode))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.NewBackendError(x.Name(), "synthesize",
			fmt.Errorf("%w: read body: %v", tts.ErrSynthesisFailed, err))
	}
	if len(audio) == 0 {
		return nil, tts.NewBackendError(x.Name(), "synthesize",
			fmt.Errorf("%w: empty audio", tts.ErrSynthesisFailed))
	}
	x.health.markSuccess()

	return &tts.SynthesisResult{
		Audio:      audio,
		Backend:    x.Name(),
		Voice:      speaker,
		Format:     "wav",
		SampleRate: 24000,
		Duration:   tts.EstimateDuration(req.Text),
	}, nil
}

// SynthesizeStream synthesizes fully and chunks the buffer.
func (x *XTTS) SynthesizeStream(ctx context.Context, req tts.SynthesisRequest) (<-chan tts.StreamChunk, error) {
	result, err := x.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return tts.ChunkStream(ctx, result.Audio, req.ChunkSize), nil
}

// Voices lists the speakers reported at initialization.
func (x *XTTS) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !x.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	return x.speakers, nil
}

// Status reports health from the last request outcome. A recent failure
// keeps the backend out of rotation only until its cooldown passes.
func (x *XTTS) Status() tts.BackendStatus {
	return tts.BackendStatus{
		Name:      x.Name(),
		Enabled:   true,
		Available: x.health.available(),
		QueueSize: int(x.inflight.Load()),
	}
}

// Shutdown marks the backend unavailable. The inference server itself is
// externally managed.
func (x *XTTS) Shutdown() error {
	x.health.markStopped()
	return nil
}

// getJSON fetches path and decodes the body into out when out is non-nil.
func (x *XTTS) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := x.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
