package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hasl-sensors/hasl/internal/api"
	"github.com/hasl-sensors/hasl/internal/platform"
)

// Events sent to clients.
const (
	EventSnapshot = "snapshot"
	EventError    = "error"
)

// Actions accepted from clients.
const (
	ActionRefresh   = "refresh"
	ActionSubscribe = "subscribe"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = time.Minute
	pingInterval = 54 * time.Second
	maxCommand   = 1024
	queueDepth   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxCommand,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the envelope of every frame sent by the hub.
type Message struct {
	Event string                `json:"event"`
	Entry string                `json:"entry,omitempty"`
	Data  *api.SnapshotResponse `json:"data,omitempty"`
	Error string                `json:"error,omitempty"`
}

// Command is a frame sent by a client.
type Command struct {
	Action string `json:"action"`
	Entry  string `json:"entry"`
}

// Snapshotter produces the payload broadcast to clients.
type Snapshotter interface {
	Snapshot() api.SnapshotResponse
}

// Hub streams entity snapshots to websocket clients. Each client may narrow
// its stream to a single config entry.
type Hub struct {
	src      Snapshotter
	interval time.Duration

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

type session struct {
	conn *websocket.Conn
	out  chan []byte

	mu    sync.Mutex
	entry string
}

func (s *session) filter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

func (s *session) setFilter(entry string) {
	s.mu.Lock()
	s.entry = entry
	s.mu.Unlock()
}

// New creates a Hub reading from src. A non-positive interval means 5s.
func New(src Snapshotter, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{src: src, interval: interval, sessions: make(map[*session]struct{})}
}

// Run broadcasts on every tick until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-t.C:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the request. The optional ?entry= query parameter sets
// the initial filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &session{conn: conn, out: make(chan []byte, queueDepth), entry: r.URL.Query().Get("entry")}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	defer h.drop(s)

	h.sendTo(s, h.src.Snapshot())

	go s.writeLoop()
	h.readLoop(s)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) drop(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.out)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		delete(h.sessions, s)
		close(s.out)
	}
}

func (h *Hub) broadcast() {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	snap := h.src.Snapshot()
	// Encode once per distinct filter.
	frames := make(map[string][]byte)
	for _, s := range targets {
		entry := s.filter()
		frame, ok := frames[entry]
		if !ok {
			var err error
			if frame, err = encodeSnapshot(snap, entry); err != nil {
				slog.Warn("ws: encode snapshot", "err", err)
				return
			}
			frames[entry] = frame
		}
		if !h.enqueue(s, frame) {
			slog.Debug("ws: dropping slow client", "remote", s.conn.RemoteAddr().String())
			h.drop(s)
		}
	}
}

func (h *Hub) sendTo(s *session, snap api.SnapshotResponse) {
	frame, err := encodeSnapshot(snap, s.filter())
	if err != nil {
		return
	}
	h.enqueue(s, frame)
}

// enqueue reports false when the session queue is full.
func (h *Hub) enqueue(s *session, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[s]; !ok {
		return true
	}
	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) reply(s *session, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.enqueue(s, frame)
}

// readLoop handles client commands until the connection fails.
func (h *Hub) readLoop(s *session) {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxCommand)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(s, Message{Event: EventError, Error: "invalid command"})
				continue
			}
			return
		}
		switch cmd.Action {
		case ActionSubscribe:
			s.setFilter(cmd.Entry)
			h.sendTo(s, h.src.Snapshot())
		case ActionRefresh:
			h.sendTo(s, h.src.Snapshot())
		default:
			h.reply(s, Message{Event: EventError, Error: "unknown action " + cmd.Action})
		}
	}
}

// writeLoop owns all writes to the connection.
func (s *session) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// encodeSnapshot narrows snap to entry (when set) and marshals the frame.
func encodeSnapshot(snap api.SnapshotResponse, entry string) ([]byte, error) {
	if entry != "" {
		snap = filterEntry(snap, entry)
	}
	return json.Marshal(Message{Event: EventSnapshot, Entry: entry, Data: &snap})
}

func filterEntry(snap api.SnapshotResponse, entry string) api.SnapshotResponse {
	out := api.SnapshotResponse{
		Entities:    []api.EntityResponse{},
		Entries:     []platform.EntryStatus{},
		GeneratedAt: snap.GeneratedAt,
	}
	for _, e := range snap.Entities {
		if e.Entity != nil && e.EntryID == entry {
			out.Entities = append(out.Entities, e)
		}
	}
	for _, e := range snap.Entries {
		if e.ID == entry {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}
