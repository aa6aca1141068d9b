package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"trivia-bingo/internal/domain"
	"trivia-bingo/internal/logger"
	"trivia-bingo/internal/metrics"
	"trivia-bingo/internal/protocol"
)

// ErrSendFailure is returned when a message could not be queued for a peer.
var ErrSendFailure = errors.New("send failure")

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 << 10
)

// PeerHandler receives the lifecycle and messages of remote peers.
// Disconnected is only raised for peers that were admitted.
type PeerHandler interface {
	Admit(peerID, name, address string) error
	HandleMessage(peerID string, msg protocol.Message)
	Disconnected(peerID string)
}

// RoomInfo is what the host exposes about its room over HTTP.
type RoomInfo interface {
	Code() string
	Count() int
	Capacity() int
}

type HostOptions struct {
	Heartbeat    time.Duration
	LoginTimeout time.Duration
	SendBuffer   int
	// JoinURL is advertised on /room and encoded in /room/qr.
	JoinURL  string
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Host accepts peer connections and routes their messages to a PeerHandler.
type Host struct {
	handler  PeerHandler
	room     RoomInfo
	opts     HostOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool
	wg     sync.WaitGroup
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func NewHost(handler PeerHandler, room RoomInfo, opts HostOptions) *Host {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Host{
		handler: handler,
		room:    room,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers: make(map[string]*peer),
	}
}

// Handler returns the host's HTTP surface.
func (h *Host) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/ws", h.ServeWS)
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.GET("/room", h.serveRoom)
	router.GET("/room/qr", h.serveQR)
	if h.opts.Gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

type roomResponse struct {
	Code     string `json:"code"`
	Players  int    `json:"players"`
	Capacity int    `json:"capacity"`
	JoinURL  string `json:"join_url,omitempty"`
}

func (h *Host) serveRoom(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(roomResponse{
		Code:     h.room.Code(),
		Players:  h.room.Count(),
		Capacity: h.room.Capacity(),
		JoinURL:  h.opts.JoinURL,
	})
}

func (h *Host) serveQR(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if h.opts.JoinURL == "" {
		http.Error(w, "no join address advertised", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode(h.opts.JoinURL, qrcode.Medium, 320)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ServeWS upgrades a connection, waits for its login and runs its read loop.
func (h *Host) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "host is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()
	conn.SetReadLimit(maxMessageSize)

	// Count includes the host, Capacity does not.
	if h.room.Count()-1 >= h.room.Capacity() {
		h.logger.Info("connection rejected before login", "address", r.RemoteAddr, "err", domain.ErrRoomFull)
		h.reject(conn, fmt.Errorf("%w: %w", domain.ErrConnectionRejected, domain.ErrRoomFull))
		_ = conn.Close()
		return
	}

	name, ok := h.awaitLogin(conn)
	if !ok {
		_ = conn.Close()
		return
	}

	p := &peer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.peers[p.id] = p
	h.mu.Unlock()

	if err := h.handler.Admit(p.id, name, r.RemoteAddr); err != nil {
		h.unregister(p.id)
		h.logger.Info("connection rejected", "name", name, "err", err)
		h.reject(conn, err)
		_ = conn.Close()
		return
	}
	h.metrics.PeerConnected()
	defer h.metrics.PeerDisconnected()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(p)
	}()

	h.readLoop(p)

	h.unregister(p.id)
	p.close()
	<-writerDone
	h.handler.Disconnected(p.id)
}

// awaitLogin reads until a login arrives. Malformed frames are dropped.
func (h *Host) awaitLogin(conn *websocket.Conn) (string, bool) {
	deadline := time.Now().Add(h.opts.LoginTimeout)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("no login received", "err", err)
			return "", false
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			h.metrics.Message("in", "malformed")
			h.logger.Warn("dropping malformed message", "err", err)
			continue
		}
		if msg.Type != protocol.TypeLogin {
			h.logger.Debug("ignoring message before login", "type", msg.Type)
			continue
		}
		var login protocol.LoginPayload
		if err := msg.Bind(&login); err != nil {
			continue
		}
		h.metrics.Message("in", "ok")
		return login.PlayerName, true
	}
}

// reject writes an error directly; the peer has no writer yet.
func (h *Host) reject(conn *websocket.Conn, reason error) {
	raw, err := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{Message: reason.Error()}, protocol.ServerID)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, raw)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rejected"), time.Now().Add(writeWait))
}

func (h *Host) readLoop(p *peer) {
	pongWait := 3 * h.opts.Heartbeat
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("peer connection lost", "participant", p.id, "err", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(raw)
		if err != nil {
			h.metrics.Message("in", "malformed")
			h.logger.Warn("dropping malformed message", "participant", p.id, "err", err)
			continue
		}
		h.metrics.Message("in", "ok")
		h.logger.Debug("message received", "participant", p.id, "type", msg.Type)
		h.handler.HandleMessage(p.id, msg)
	}
}

func (h *Host) writeLoop(p *peer) {
	ticker := time.NewTicker(h.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case raw := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				h.metrics.Message("out", "failed")
				h.logger.Warn("ws write error", "participant", p.id, "err", err)
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send queues a message for one peer. A peer whose queue is full or closed
// is disconnected and Send reports false.
func (h *Host) Send(peerID string, msg protocol.Message) bool {
	raw, err := msg.Marshal()
	if err != nil {
		h.logger.Error("encode message", "type", msg.Type, "err", err)
		return false
	}
	h.mu.RLock()
	p := h.peers[peerID]
	h.mu.RUnlock()
	if p == nil {
		return false
	}
	return h.deliver(p, raw, msg.Type)
}

// Broadcast queues a message for every peer except exclude. A failing peer
// does not stop delivery to the others.
func (h *Host) Broadcast(msg protocol.Message, exclude string) bool {
	raw, err := msg.Marshal()
	if err != nil {
		h.logger.Error("encode message", "type", msg.Type, "err", err)
		return false
	}
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != exclude {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	ok := true
	for _, p := range targets {
		if !h.deliver(p, raw, msg.Type) {
			ok = false
		}
	}
	return ok
}

func (h *Host) deliver(p *peer, raw []byte, t protocol.Type) bool {
	select {
	case <-p.done:
		h.metrics.Message("out", "failed")
		return false
	default:
	}
	select {
	case p.send <- raw:
		h.metrics.Message("out", "ok")
		return true
	default:
		h.metrics.Message("out", "failed")
		h.logger.Warn("peer queue full, disconnecting", "participant", p.id, "type", t)
		p.close()
		return false
	}
}

// Disconnect closes a peer's connection; its read loop reports the disconnection.
func (h *Host) Disconnect(peerID string) {
	h.mu.RLock()
	p := h.peers[peerID]
	h.mu.RUnlock()
	if p != nil {
		p.close()
	}
}

// Peers is the number of connected peers.
func (h *Host) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every peer and waits for their loops to finish.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	h.wg.Wait()
}

func (h *Host) unregister(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}
