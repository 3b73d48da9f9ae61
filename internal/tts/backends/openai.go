package backends

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

// OpenAIConfig configures the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // Optional override for proxies or compatible servers
	Model        string // "tts-1" or "tts-1-hd"; defaults to "tts-1"
	DefaultVoice string // Defaults to "alloy"
	Speed        float64
	Timeout      time.Duration
}

// openAIVoices is the fixed catalog the speech API accepts.
var openAIVoices = []openai.SpeechVoice{
	openai.VoiceAlloy,
	openai.VoiceEcho,
	openai.VoiceFable,
	openai.VoiceOnyx,
	openai.VoiceNova,
	openai.VoiceShimmer,
}

// OpenAI synthesizes speech through the OpenAI audio API.
type OpenAI struct {
	cfg    OpenAIConfig
	client *openai.Client

	health   health
	inflight atomic.Int64
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = string(openai.VoiceAlloy)
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Initialize verifies the credentials with a model listing.
func (o *OpenAI) Initialize(ctx context.Context) error {
	if o.cfg.APIKey == "" {
		return tts.NewBackendError(o.Name(), "initialize", fmt.Errorf("API key not configured"))
	}
	if _, err := o.client.ListModels(ctx); err != nil {
		return tts.NewBackendError(o.Name(), "initialize", fmt.Errorf("credential probe: %w", err))
	}
	o.health.markReady()
	return nil
}

// Synthesize requests one complete audio rendering.
func (o *OpenAI) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if !o.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	o.inflight.Add(1)
	defer o.inflight.Add(-1)

	voice := req.Voice
	if voice == "" {
		voice = o.cfg.DefaultVoice
	}
	if !validOpenAIVoice(voice) {
		return nil, tts.NewBackendError(o.Name(), "synthesize",
			fmt.Errorf("%w: %q", tts.ErrInvalidVoice, voice))
	}

	callerCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.cfg.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          o.cfg.Speed,
	})
	if err != nil {
		// A canceled caller is not evidence against the API.
		if callerCtx.Err() == nil {
			o.health.markFailure()
		}
		return nil, tts.NewBackendError(o.Name(), "synthesize",
			fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err))
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, tts.NewBackendError(o.Name(), "synthesize",
			fmt.Errorf("%w: read body: %v", tts.ErrSynthesisFailed, err))
	}
	o.health.markSuccess()

	return &tts.SynthesisResult{
		Audio:      audio,
		Backend:    o.Name(),
		Voice:      voice,
		Format:     "mp3",
		SampleRate: 24000,
		Duration:   tts.EstimateDuration(req.Text),
	}, nil
}

// SynthesizeStream synthesizes fully and chunks the buffer.
func (o *OpenAI) SynthesizeStream(ctx context.Context, req tts.SynthesisRequest) (<-chan tts.StreamChunk, error) {
	result, err := o.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return tts.ChunkStream(ctx, result.Audio, req.ChunkSize), nil
}

// Voices returns the fixed API catalog.
func (o *OpenAI) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !o.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	voices := make([]tts.Voice, 0, len(openAIVoices))
	for _, v := range openAIVoices {
		voices = append(voices, tts.Voice{
			ID:       string(v),
			Name:     string(v),
			Language: "en-US",
			Backend:  o.Name(),
			Quality:  tts.QualityHigh,
		})
	}
	return voices, nil
}

// Status reports health from the last request outcome. A recent failure
// keeps the backend out of rotation only until its cooldown passes.
func (o *OpenAI) Status() tts.BackendStatus {
	return tts.BackendStatus{
		Name:      o.Name(),
		Enabled:   true,
		Available: o.health.available(),
		QueueSize: int(o.inflight.Load()),
	}
}

// Shutdown marks the backend unavailable.
func (o *OpenAI) Shutdown() error {
	o.health.markStopped()
	return nil
}

func validOpenAIVoice(voice string) bool {
	for _, v := range openAIVoices {
		if string(v) == voice {
			return true
		}
	}
	return false
}
