package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yomikawa/danmu-tts/internal/tts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Danmaku overlays run on stream-viewer origins we cannot enumerate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// wsRequest is one synthesis request on the websocket channel.
type wsRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Quality    string `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// wsControl is a JSON control frame sent between binary audio chunks.
type wsControl struct {
	Type    string `json:"type"` // start, end, error
	Backend string `json:"backend,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleWebsocket serves interactive clients: each JSON text frame is one
// synthesis request, answered with a start frame, binary audio chunks, and
// an end frame. Requests on one connection are handled serially so audio
// from different requests never interleaves.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.wsConnections.Add(1)
	defer s.wsConnections.Add(-1)
	s.logger.Info("websocket connected", "conn", connID, "remote", r.RemoteAddr)
	defer s.logger.Info("websocket disconnected", "conn", connID)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "conn", connID, "err", err)
			}
			return
		}

		if err := s.serveWSRequest(r.Context(), conn, req); err != nil {
			return
		}
	}
}

// serveWSRequest streams one synthesis over the connection. A synthesis
// error is reported in-band; only write failures tear the connection down.
func (s *Server) serveWSRequest(ctx context.Context, conn *websocket.Conn, req wsRequest) error {
	stream, err := s.manager.Stream(ctx, tts.SynthesisRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Backend:    req.Backend,
		Quality:    tts.Quality(req.Quality),
		Format:     req.Format,
		SampleRate: req.SampleRate,
	})
	if err != nil {
		return writeControl(conn, wsControl{Type: "error", Error: err.Error()})
	}

	if err := writeControl(conn, wsControl{Type: "start"}); err != nil {
		return err
	}

	for chunk := range stream {
		if chunk.Err != nil {
			return writeControl(conn, wsControl{Type: "error", Error: chunk.Err.Error()})
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
			return err
		}
	}

	return writeControl(conn, wsControl{Type: "end"})
}

func writeControl(conn *websocket.Conn, ctrl wsControl) error {
	payload, err := json.Marshal(ctrl)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
