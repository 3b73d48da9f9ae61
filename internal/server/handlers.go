package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

// synthesizeRequest is the JSON body of POST /api/tts.
type synthesizeRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Quality    string `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

func (r synthesizeRequest) toRequest() tts.SynthesisRequest {
	return tts.SynthesisRequest{
		Text:       r.Text,
		Voice:      r.Voice,
		Backend:    r.Backend,
		Quality:    tts.Quality(r.Quality),
		Format:     r.Format,
		SampleRate: r.SampleRate,
	}
}

// synthesizeResponse carries the audio base64-encoded so danmaku clients can
// consume it from plain JSON.
type synthesizeResponse struct {
	Audio      string  `json:"audio"`
	Backend    string  `json:"backend"`
	Voice      string  `json:"voice"`
	Format     string  `json:"format"`
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration"` // Seconds
	Cached     bool    `json:"cached"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	result, err := s.manager.Generate(r.Context(), req.toRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, synthesizeResponse{
		Audio:      base64.StdEncoding.EncodeToString(result.Audio),
		Backend:    result.Backend,
		Voice:      result.Voice,
		Format:     result.Format,
		SampleRate: result.SampleRate,
		Duration:   result.Duration.Seconds(),
		Cached:     result.Cached,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := tts.SynthesisRequest{
		Text:    q.Get("text"),
		Voice:   q.Get("voice"),
		Backend: q.Get("backend"),
		Quality: tts.Quality(q.Get("quality")),
		Format:  q.Get("format"),
	}
	if raw := q.Get("sample_rate"); raw != "" {
		rate, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid sample_rate"))
			return
		}
		req.SampleRate = rate
	}

	stream, err := s.manager.Stream(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Transfer-Encoding", "chunked")

	flusher, _ := w.(http.Flusher)
	for chunk := range stream {
		if chunk.Err != nil {
			// Headers are out; all we can do is stop the body early.
			s.logger.Error("stream aborted", "err", chunk.Err)
			return
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.manager.Voices(r.Context(), r.URL.Query().Get("backend"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"backends": s.manager.BackendStatus()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":        stats.Uptime.Seconds(),
		"total_requests":        stats.TotalRequests,
		"cache_hits":            stats.CacheHits,
		"cache_hit_rate":        stats.CacheHitRate,
		"backend_usage":         stats.BackendUsage,
		"backends":              stats.Backends,
		"cache":                 stats.Cache,
		"websocket_connections": s.wsConnections.Load(),
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ClearCache(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// writeError maps core errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tts.ErrInvalidRequest), errors.Is(err, tts.ErrInvalidVoice):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, tts.ErrBackendNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, tts.ErrBackendUnavailable), errors.Is(err, tts.ErrNoBackendAvailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	case errors.Is(err, tts.ErrSynthesisFailed):
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
