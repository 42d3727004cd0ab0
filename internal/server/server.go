// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/metrics"
	"github.com/GriffinCanCode/lecture-scribe/internal/orchestrator"
	"github.com/GriffinCanCode/lecture-scribe/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/lecture-scribe/internal/trace"
)

// Controller is the session surface the server drives.
type Controller interface {
	Start(ctx context.Context, device, prompt string) error
	Stop() error
	Listening() bool
	Transcript() string
	Chunks() []transcript.Entry
	Status() orchestrator.Status
	Events() <-chan orchestrator.Event
	SaveTranscript() (string, error)
}

// DeviceLister returns selectable capture device names.
type DeviceLister func() ([]string, error)

// Message types.
type Message struct {
	Type string `json:"type"`
}

// StartRequest is the body of POST /api/session/start and the "start" command.
type StartRequest struct {
	Device string `json:"device"`
	Prompt string `json:"prompt"`
}

type TranscriptMessage struct {
	Type  string `json:"type"`
	Chunk string `json:"chunk"`
	Full  string `json:"full"`
}

type StatusMessage struct {
	Type   string               `json:"type"`
	Report *orchestrator.Report `json:"report,omitempty"`
	Status orchestrator.Status  `json:"status"`
}

type SnapshotMessage struct {
	Type       string              `json:"type"`
	Transcript string              `json:"transcript"`
	Status     orchestrator.Status `json:"status"`
}

type SavedMessage struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Chunk is the JSON form of an accepted transcript chunk.
type Chunk struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctl     Controller
	devices DeviceLister
	mu      sync.RWMutex
	conns   map[*websocket.Conn]*rateLimiter
}

// New creates a new server. Call Broadcast to start pushing events.
func New(ctl Controller, devices DeviceLister) *Server {
	return &Server{
		ctl:     ctl,
		devices: devices,
		conns:   make(map[*websocket.Conn]*rateLimiter),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("POST /api/transcript/save", s.handleSave)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.Handle("GET /metrics", metrics.Handler())

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Broadcast fans manager events out to every WebSocket client until ctx ends.
func (s *Server) Broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.ctl.Events():
			var msg any
			switch ev.Type {
			case orchestrator.EventTranscript:
				msg = TranscriptMessage{Type: "transcript", Chunk: ev.Chunk, Full: ev.Full}
			case orchestrator.EventStatus:
				msg = StatusMessage{Type: "status", Report: ev.Report, Status: s.ctl.Status()}
			default:
				continue
			}

			s.mu.RLock()
			for conn := range s.conns {
				go write(ctx, conn, msg)
			}
			s.mu.RUnlock()
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg any) {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	rl := &rateLimiter{}
	s.mu.Lock()
	s.conns[conn] = rl
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	write(ctx, conn, SnapshotMessage{Type: "snapshot", Transcript: s.ctl.Transcript(), Status: s.ctl.Status()})

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}
		s.handleCommand(ctx, conn, base.Type, raw)
	}
}

// handleCommand runs one control command received over the socket.
func (s *Server) handleCommand(ctx context.Context, conn *websocket.Conn, kind string, raw json.RawMessage) {
	ctx, span := trace.StartSpan(ctx, "ws_"+kind)
	defer span.End()

	var err error
	switch kind {
	case "start":
		var req StartRequest
		if err = json.Unmarshal(raw, &req); err == nil {
			err = s.ctl.Start(ctx, req.Device, req.Prompt)
		}
	case "stop":
		err = s.ctl.Stop()
	case "save":
		var path string
		if path, err = s.ctl.SaveTranscript(); err == nil {
			write(ctx, conn, SavedMessage{Type: "saved", Path: path})
		}
	default:
		err = apperrors.Newf(apperrors.InvalidArgument, "unknown command %q", kind)
	}

	if err != nil {
		span.SetAttr("error", err.Error())
		write(ctx, conn, ErrorMessage{Type: "error", Code: apperrors.CodeOf(err).String(), Message: err.Error()})
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apperrors.Wrap(err, apperrors.InvalidArgument, "decode start request"))
		return
	}
	if err := s.ctl.Start(r.Context(), req.Device, req.Prompt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	entries := s.ctl.Chunks()
	chunks := make([]Chunk, len(entries))
	for i, e := range entries {
		chunks[i] = Chunk{Time: e.Timestamp, Text: e.Text}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listening": s.ctl.Listening(),
		"text":      s.ctl.Transcript(),
		"chunks":    chunks,
	})
}

func (s *Server) handleSave(w http.ResponseWriter, _ *http.Request) {
	path, err := s.ctl.SaveTranscript()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusOK, map[string][]string{"devices": {}})
		return
	}
	names, err := s.devices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"devices": names})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, httpStatus(code), ErrorMessage{Type: "error", Code: code.String(), Message: err.Error()})
}

// httpStatus maps error codes onto HTTP responses.
func httpStatus(c apperrors.Code) int {
	switch c {
	case apperrors.InvalidArgument, apperrors.ConfigInvalid:
		return http.StatusBadRequest
	case apperrors.AlreadyListening:
		return http.StatusConflict
	case apperrors.NoEngine, apperrors.Unavailable, apperrors.ModelLoadFailed:
		return http.StatusServiceUnavailable
	case apperrors.DeviceUnavailable:
		return http.StatusUnprocessableEntity
	case apperrors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
