package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/btserial/internal/journal"
	"github.com/chaz8081/btserial/internal/link"
)

// Link is the part of link.Service the API drives.
type Link interface {
	Connect(peer string) error
	Disconnect()
	Write(ctx context.Context, payload []byte) error
	Status() link.Status
	Peer() string
	Stats() link.Stats
	Config() link.Config
}

// History lists recorded link events, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

const (
	pingInterval = 20 * time.Second
	writeWait    = 5 * time.Second
)

// Server holds handler dependencies.
type Server struct {
	link    Link
	bus     *EventBus
	history History
}

// NewRouter wires the /api/v1 routes. history may be nil, in which case the
// history endpoint reports 404.
func NewRouter(l Link, bus *EventBus, history History) http.Handler {
	s := &Server{link: l, bus: bus, history: history}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("POST /api/v1/connect", s.connect)
	mux.HandleFunc("POST /api/v1/disconnect", s.disconnect)
	mux.HandleFunc("POST /api/v1/write", s.write)
	mux.HandleFunc("GET /api/v1/history", s.listHistory)
	mux.HandleFunc("GET /api/v1/events", s.eventStream)

	return withLogging(mux)
}

type statusResponse struct {
	Status      string     `json:"status"`
	Peer        string     `json:"peer"`
	Subscribers int        `json:"subscribers"`
	Stats       link.Stats `json:"stats"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      s.link.Status().String(),
		Peer:        s.link.Peer(),
		Subscribers: s.bus.Len(),
		Stats:       s.link.Stats(),
	})
}

type connectRequest struct {
	Peer string `json:"peer"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.link.Connect(req.Peer); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": link.Connecting.String()})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	s.link.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": s.link.Status().String()})
}

type writeRequest struct {
	Text string `json:"text"`
	Line bool   `json:"line"` // append the frame delimiter
}

func (s *Server) write(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	tw := link.NewTextWriter(s.link, s.link.Config().Delimiter)
	var err error
	n := len(req.Text)
	if req.Line {
		err = tw.WriteLine(r.Context(), req.Text)
		n++
	} else {
		err = tw.WriteString(r.Context(), req.Text)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int{"bytes": n})
	case errors.Is(err, link.ErrNotConnected), errors.Is(err, link.ErrStopped):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	limit, err := queryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("[BRIDGE] history", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// eventStream mirrors link events to the client. Each text message the
// client sends is written to the link as one line.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[BRIDGE] ws upgrade", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readLines(ctx, cancel, conn)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				slog.Debug("[BRIDGE] ws write", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readLines(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	tw := link.NewTextWriter(s.link, s.link.Config().Delimiter)
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := tw.WriteLine(ctx, string(msg)); err != nil {
			slog.Debug("[BRIDGE] ws line not sent", "error", err)
			s.bus.Publish(Event{Type: EventNotice, Text: err.Error()})
		}
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("[BRIDGE] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.code,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Hijack is required by the WebSocket upgrader.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("bridge: response writer does not support hijacking")
	}
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, errors.New(key + " must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return n, nil
}
