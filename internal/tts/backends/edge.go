package backends

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

// Edge read-aloud service endpoints. The trusted client token is the public
// one the Edge browser itself ships with.
const (
	edgeTrustedToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	edgeWSSEndpoint  = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	edgeVoicesURL    = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list?trustedclienttoken=" + edgeTrustedToken
	edgeOutputFormat = "audio-24khz-48kbitrate-mono-mp3"

	// voiceCatalogTTL bounds how long a fetched catalog is considered
	// fresh. A stale catalog is still served when a refresh fails.
	voiceCatalogTTL = time.Hour
)

// EdgeConfig configures the Edge read-aloud backend.
type EdgeConfig struct {
	DefaultVoice string        // e.g. "zh-CN-XiaoxiaoNeural"
	Rate         string        // Prosody rate, e.g. "+0%"
	Volume       string        // Prosody volume, e.g. "+0%"
	Pitch        string        // Prosody pitch, e.g. "+0Hz"
	Timeout      time.Duration // Per-request websocket budget
}

// Edge synthesizes speech through the Microsoft Edge read-aloud websocket
// service. Each synthesis opens one connection, sends a speech.config and an
// SSML message, and drains binary audio frames until turn.end.
type Edge struct {
	cfg    EdgeConfig
	dialer *websocket.Dialer
	client *http.Client

	health   health
	inflight atomic.Int64

	voicesMu      sync.Mutex
	voices        []tts.Voice
	voicesFetched time.Time
}

// NewEdge creates the Edge backend.
func NewEdge(cfg EdgeConfig) *Edge {
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "zh-CN-XiaoxiaoNeural"
	}
	if cfg.Rate == "" {
		cfg.Rate = "+0%"
	}
	if cfg.Volume == "" {
		cfg.Volume = "+0%"
	}
	if cfg.Pitch == "" {
		cfg.Pitch = "+0Hz"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Edge{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *Edge) Name() string { return "edge" }

// Initialize fetches the voice catalog as a connectivity probe.
func (e *Edge) Initialize(ctx context.Context) error {
	if _, err := e.fetchVoices(ctx); err != nil {
		return tts.NewBackendError(e.Name(), "initialize", err)
	}
	e.health.markReady()
	return nil
}

// Synthesize runs one read-aloud websocket exchange.
func (e *Edge) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	if !e.health.ready() {
		return nil, tts.ErrNotInitialized
	}
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	callerCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	voice := req.Voice
	if voice == "" {
		voice = e.cfg.DefaultVoice
	}

	audio, err := e.exchange(ctx, req.Text, voice)
	if err != nil {
		// A caller that hung up mid-exchange says nothing about the service.
		if callerCtx.Err() == nil {
			e.health.markFailure()
		}
		return nil, tts.NewBackendError(e.Name(), "synthesize", err)
	}
	e.health.markSuccess()

	return &tts.SynthesisResult{
		Audio:      audio,
		Backend:    e.Name(),
		Voice:      voice,
		Format:     req.Format,
		SampleRate: req.SampleRate,
		Duration:   tts.EstimateDuration(req.Text),
	}, nil
}

// SynthesizeStream synthesizes fully and chunks the buffer. The read-aloud
// service does deliver frames incrementally, but frame boundaries are codec
// internals; re-chunking keeps the stream shape uniform across backends.
func (e *Edge) SynthesizeStream(ctx context.Context, req tts.SynthesisRequest) (<-chan tts.StreamChunk, error) {
	result, err := e.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	return tts.ChunkStream(ctx, result.Audio, req.ChunkSize), nil
}

// Voices returns the voice catalog, refreshing it when stale. A previously
// fetched catalog is served even when the refresh fails.
func (e *Edge) Voices(ctx context.Context) ([]tts.Voice, error) {
	e.voicesMu.Lock()
	fresh := time.Since(e.voicesFetched) < voiceCatalogTTL && len(e.voices) > 0
	cached := e.voices
	e.voicesMu.Unlock()

	if fresh {
		return cached, nil
	}

	voices, err := e.fetchVoices(ctx)
	if err != nil {
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, tts.NewBackendError(e.Name(), "voices", err)
	}
	return voices, nil
}

// Status reports health from the last synthesis outcome. A recent failure
// keeps the backend out of rotation only until its cooldown passes.
func (e *Edge) Status() tts.BackendStatus {
	return tts.BackendStatus{
		Name:      e.Name(),
		Enabled:   true,
		Available: e.health.available(),
		QueueSize: int(e.inflight.Load()),
	}
}

// Shutdown marks the backend unavailable. Connections are per-request, so
// there is nothing persistent to tear down.
func (e *Edge) Shutdown() error {
	e.health.markStopped()
	return nil
}

// exchange performs the full websocket protocol round trip for one text.
func (e *Edge) exchange(ctx context.Context, text, voice string) ([]byte, error) {
	connID := strings.ReplaceAll(uuid.NewString(), "-", "")
	url := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", edgeWSSEndpoint, edgeTrustedToken, connID)

	header := http.Header{}
	header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	conn, _, err := e.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	if err := conn.WriteMessage(websocket.TextMessage, speechConfigMessage()); err != nil {
		return nil, fmt.Errorf("send speech.config: %w", err)
	}

	ssml := buildSSML(text, voice, e.cfg.Rate, e.cfg.Volume, e.cfg.Pitch)
	if err := conn.WriteMessage(websocket.TextMessage, ssmlMessage(connID, ssml)); err != nil {
		return nil, fmt.Errorf("send ssml: %w", err)
	}

	var audio bytes.Buffer
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if textFramePath(data) == "turn.end" {
				if audio.Len() == 0 {
					return nil, fmt.Errorf("turn ended without audio")
				}
				return audio.Bytes(), nil
			}
		case websocket.BinaryMessage:
			path, payload, err := parseBinaryFrame(data)
			if err != nil {
				return nil, err
			}
			if path == "audio" {
				audio.Write(payload)
			}
		}
	}
}

// speechConfigMessage builds the session-level output format message.
func speechConfigMessage() []byte {
	var b strings.Builder
	b.WriteString("X-Timestamp:" + edgeTimestamp() + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + edgeOutputFormat + `"}}}}`)
	return []byte(b.String())
}

// ssmlMessage builds one synthesis request message.
func ssmlMessage(requestID, ssml string) []byte {
	var b strings.Builder
	b.WriteString("X-RequestId:" + requestID + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("X-Timestamp:" + edgeTimestamp() + "\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(ssml)
	return []byte(b.String())
}

// buildSSML wraps text in the voice and prosody envelope the service expects.
func buildSSML(text, voice, rate, volume, pitch string) string {
	escaped := xmlEscape(text)
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>`+
			`<voice name='%s'><prosody pitch='%s' rate='%s' volume='%s'>%s</prosody></voice></speak>`,
		voice, pitch, rate, volume, escaped)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"'", "&apos;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

// edgeTimestamp formats the header timestamp the service expects.
func edgeTimestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05") + " GMT+0000 (Coordinated Universal Time)"
}

// parseBinaryFrame splits a binary frame into its Path header value and
// payload. The first two bytes are the big-endian header block length.
func parseBinaryFrame(data []byte) (path string, payload []byte, err error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if 2+headerLen > len(data) {
		return "", nil, fmt.Errorf("binary frame header overruns frame: %d > %d", headerLen, len(data)-2)
	}
	return headerValue(data[2:2+headerLen], "Path"), data[2+headerLen:], nil
}

// textFramePath extracts the Path header of a text frame.
func textFramePath(data []byte) string {
	header := data
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		header = data[:i]
	}
	return headerValue(header, "Path")
}

func headerValue(header []byte, name string) string {
	for _, line := range strings.Split(string(header), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.TrimSpace(key) == name {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// edgeVoiceEntry matches one element of the voices list response.
type edgeVoiceEntry struct {
	ShortName      string `json:"ShortName"`
	FriendlyName   string `json:"FriendlyName"`
	Locale         string `json:"Locale"`
	Gender         string `json:"Gender"`
	VoiceTag       any    `json:"VoiceTag"`
	SuggestedCodec string `json:"SuggestedCodec"`
}

// fetchVoices pulls and caches the service voice catalog.
func (e *Edge) fetchVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, edgeVoicesURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voices list: status %d", resp.StatusCode)
	}

	var entries []edgeVoiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode voices list: %w", err)
	}

	voices := make([]tts.Voice, 0, len(entries))
	for _, entry := range entries {
		voices = append(voices, tts.Voice{
			ID:       entry.ShortName,
			Name:     entry.FriendlyName,
			Language: entry.Locale,
			Gender:   strings.ToLower(entry.Gender),
			Backend:  e.Name(),
			Quality:  tts.QualityMedium,
		})
	}

	e.voicesMu.Lock()
	e.voices = voices
	e.voicesFetched = time.Now()
	e.voicesMu.Unlock()
	return voices, nil
}
