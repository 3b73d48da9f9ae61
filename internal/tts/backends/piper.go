package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

// PiperConfig configures the local Piper subprocess backend.
type PiperConfig struct {
	BinaryPath   string        // Path to the piper binary; discovered on PATH when empty
	ModelDir     string        // Directory scanned for *.onnx voice models
	DefaultVoice string        // Model name used when the request names none
	Timeout      time.Duration // Per-synthesis subprocess budget
	SampleRate   int
}

// Piper runs the piper binary once per synthesis: text on stdin, WAV on
// stdout. No long-lived process to babysit; a wedged synthesis dies with its
// context.
type Piper struct {
	cfg    PiperConfig
	binary string

	voices map[string]tts.Voice // model name -> descriptor

	health   health
	inflight atomic.Int64
}

// NewPiper creates the Piper backend.
func NewPiper(cfg PiperConfig) *Piper {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	return &Piper{cfg: cfg}
}

func (p *Piper) Name() string { return "piper" }

// Initialize locates the binary and scans the model directory.
func (p *Piper) Initialize(ctx context.Context) error {
	binary := p.cfg.BinaryPath
	if binary == "" {
		found, err := exec.LookPath("piper")
		if err != nil {
			return tts.NewBackendError(p.Name(), "initialize", fmt.Errorf("piper binary not found on PATH"))
		}
		binary = found
	}
	if _, err := os.Stat(binary); err != nil {
		return tts.NewBackendError(p.Name(), "initialize", fmt.Errorf("piper binary not accessible: %w", err))
	}

	voices, err := scanPiperModels(p.cfg.ModelDir)
	if err != nil {
		return tts.NewBackendError(p.Name(), "initialize", err)
	}
	if len(voices) == 0 {
		return tts.NewBackendError(p.Name(), "initialize",
			fmt.Errorf("no voice models in %s", p.cfg.ModelDir))
	}

	p.binary = binary
	p.voices = voices
	p.health.markReady()
	return nil
}

// Synthesize runs one piper subprocess.
func (p *Piper) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if !p.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	voice := req.Voice
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}
	descriptor, ok := p.voices[voice]
	if !ok {
		return nil, tts.NewBackendError(p.Name(), "synthesize",
			fmt.Errorf("%w: %q", tts.ErrInvalidVoice, voice))
	}

	callerCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	modelPath := filepath.Join(p.cfg.ModelDir, descriptor.ID+".onnx")
	cmd := exec.CommandContext(ctx, p.binary, "--model", modelPath, "--output_file", "-")
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// A subprocess killed by the caller hanging up is not piper's fault.
		if callerCtx.Err() == nil {
			p.health.markFailure()
		}
		return nil, tts.NewBackendError(p.Name(), "synthesize",
			fmt.Errorf("%w: %v: %s", tts.ErrSynthesisFailed, err, strings.TrimSpace(stderr.String())))
	}
	p.health.markSuccess()

	if stdout.Len() == 0 {
		return nil, tts.NewBackendError(p.Name(), "synthesize",
			fmt.Errorf("%w: empty output", tts.ErrSynthesisFailed))
	}

	return &tts.SynthesisResult{
		Audio:      stdout.Bytes(),
		Backend:    p.Name(),
		Voice:      voice,
		Format:     "wav",
		SampleRate: p.cfg.SampleRate,
		Duration:   tts.EstimateDuration(req.Text),
	}, nil
}

// SynthesizeStream synthesizes fully and chunks the buffer. Piper writes a
// WAV header first, so incremental output is not usable as-is.
func (p *Piper) SynthesizeStream(ctx context.Context, req tts.SynthesisRequest) (<-chan tts.StreamChunk, error) {
	result, err := p.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return tts.ChunkStream(ctx, result.Audio, req.ChunkSize), nil
}

// Voices lists the models found at initialization.
func (p *Piper) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !p.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	voices := make([]tts.Voice, 0, len(p.voices))
	for _, voice := range p.voices {
		voices = append(voices, voice)
	}
	return voices, nil
}

// Status reports health from the last subprocess outcome. A recent failure
// keeps the backend out of rotation only until its cooldown passes.
func (p *Piper) Status() tts.BackendStatus {
	return tts.BackendStatus{
		Name:      p.Name(),
		Enabled:   true,
		Available: p.health.available(),
		QueueSize: int(p.inflight.Load()),
	}
}

// Shutdown marks the backend unavailable.
func (p *Piper) Shutdown() error {
	p.health.markStopped()
	return nil
}

// piperModelCard matches the sidecar metadata piper ships per model.
type piperModelCard struct {
	Dataset  string `json:"dataset"`
	Language struct {
		Code       string `json:"code"`
		NameNative string `json:"name_native"`
	} `json:"language"`
	Audio struct {
		Quality string `json:"quality"`
	} `json:"audio"`
}

// scanPiperModels indexes *.onnx files in dir, enriching each from its
// .onnx.json sidecar when present.
func scanPiperModels(dir string) (map[string]tts.Voice, error) {
	if dir == "" {
		return nil, fmt.Errorf("model directory not configured")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}

	voices := make(map[string]tts.Voice)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".onnx") {
			continue
		}
		model := strings.TrimSuffix(name, ".onnx")

		voice := tts.Voice{
			ID:      model,
			Name:    model,
			Backend: "piper",
			Quality: tts.QualityMedium,
		}
		if card, err := readPiperModelCard(filepath.Join(dir, name+".json")); err == nil {
			if card.Language.Code != "" {
				voice.Language = strings.ReplaceAll(card.Language.Code, "_", "-")
			}
			if card.Dataset != "" {
				voice.Name = card.Dataset
			}
			if q, ok := tts.NormalizeQuality(card.Audio.Quality); ok && q != "" {
				voice.Quality = q
			}
		}
		voices[model] = voice
	}
	return voices, nil
}

func readPiperModelCard(path string) (*piperModelCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var card piperModelCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, err
	}
	return &card, nil
}
