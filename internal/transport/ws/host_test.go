package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trivia-bingo/internal/protocol"
)

type admitted struct {
	id, name string
}

type inbound struct {
	id  string
	msg protocol.Message
}

type recordingHandler struct {
	mu       sync.Mutex
	max      int
	count    int
	admitted chan admitted
	messages chan inbound
	left     chan string
}

func newRecordingHandler(max int) *recordingHandler {
	return &recordingHandler{
		max:      max,
		admitted: make(chan admitted, 16),
		messages: make(chan inbound, 16),
		left:     make(chan string, 16),
	}
}

func (h *recordingHandler) Admit(peerID, name, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count >= h.max {
		return errors.New("room full")
	}
	h.count++
	h.admitted <- admitted{id: peerID, name: name}
	return nil
}

func (h *recordingHandler) HandleMessage(peerID string, msg protocol.Message) {
	h.messages <- inbound{id: peerID, msg: msg}
}

func (h *recordingHandler) Disconnected(peerID string) {
	h.left <- peerID
}

type fakeRoom struct {
	count, capacity int
}

func (fakeRoom) Code() string    { return "123456" }
func (r fakeRoom) Count() int    { return r.count }
func (r fakeRoom) Capacity() int { return r.capacity }

func startHost(t *testing.T, handler PeerHandler, opts HostOptions) (*Host, *httptest.Server) {
	t.Helper()
	return startHostWithRoom(t, handler, fakeRoom{count: 2, capacity: 10}, opts)
}

func startHostWithRoom(t *testing.T, handler PeerHandler, room RoomInfo, opts HostOptions) (*Host, *httptest.Server) {
	t.Helper()
	host := NewHost(handler, room, opts)
	server := httptest.NewServer(host.Handler())
	t.Cleanup(func() {
		host.Close()
		server.Close()
	})
	return host, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialAndLogin(t *testing.T, server *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	raw, _ := protocol.Encode(protocol.TypeLogin, protocol.LoginPayload{PlayerName: name}, name)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write login: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func waitAdmitted(t *testing.T, h *recordingHandler) admitted {
	t.Helper()
	select {
	case a := <-h.admitted:
		return a
	case <-time.After(3 * time.Second):
		t.Fatalf("peer was not admitted")
	}
	return admitted{}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	handler := newRecordingHandler(10)
	_, server := startHost(t, handler, HostOptions{})

	conn := dialAndLogin(t, server, "Ana")
	defer conn.Close()
	peer := waitAdmitted(t, handler)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","data":`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	ping, _ := protocol.Encode(protocol.TypePing, protocol.PingPayload{}, "Ana")
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	select {
	case in := <-handler.messages:
		if in.id != peer.id || in.msg.Type != protocol.TypePing {
			t.Fatalf("unexpected message %+v", in)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("well-formed message after malformed one was not delivered")
	}
}

func TestRejectedPeerReceivesError(t *testing.T) {
	handler := newRecordingHandler(1)
	_, server := startHost(t, handler, HostOptions{})

	first := dialAndLogin(t, server, "Uno")
	defer first.Close()
	waitAdmitted(t, handler)

	second := dialAndLogin(t, server, "Dos")
	defer second.Close()
	msg := readMessage(t, second)
	var payload protocol.ErrorPayload
	if msg.Type != protocol.TypeError || msg.Bind(&payload) != nil || payload.Message != "room full" {
		t.Fatalf("expected room full error, got %+v", msg)
	}
	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Fatalf("expected rejected connection to be closed")
	}
}

func TestFullRoomRejectsBeforeLogin(t *testing.T) {
	handler := newRecordingHandler(10)
	_, server := startHostWithRoom(t, handler, fakeRoom{count: 3, capacity: 2}, HostOptions{LoginTimeout: time.Minute})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// no login is sent; the rejection must not wait for one
	msg := readMessage(t, conn)
	var payload protocol.ErrorPayload
	if msg.Type != protocol.TypeError || msg.Bind(&payload) != nil || !strings.Contains(payload.Message, "room is full") {
		t.Fatalf("expected room full error, got %+v", msg)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected rejected connection to be closed")
	}
	select {
	case a := <-handler.admitted:
		t.Fatalf("full room admitted %+v", a)
	default:
	}
}

func TestSendBroadcastAndDisconnect(t *testing.T) {
	handler := newRecordingHandler(10)
	host, server := startHost(t, handler, HostOptions{})

	a := dialAndLogin(t, server, "A")
	defer a.Close()
	peerA := waitAdmitted(t, handler)
	b := dialAndLogin(t, server, "B")
	defer b.Close()
	peerB := waitAdmitted(t, handler)

	direct, _ := protocol.NewMessage(protocol.TypeQuestion, protocol.QuestionView{ID: "q", Text: "?", Options: []string{"x", "y"}}, protocol.ServerID)
	if !host.Send(peerA.id, direct) {
		t.Fatalf("send to A failed")
	}
	if got := readMessage(t, a); got.Type != protocol.TypeQuestion {
		t.Fatalf("expected question, got %s", got.Type)
	}
	if host.Send("nobody", direct) {
		t.Fatalf("send to unknown peer must fail")
	}

	update, _ := protocol.NewMessage(protocol.TypeBingo, protocol.BingoPayload{Winner: "A"}, protocol.ServerID)
	if !host.Broadcast(update, peerA.id) {
		t.Fatalf("broadcast failed")
	}
	if got := readMessage(t, b); got.Type != protocol.TypeBingo {
		t.Fatalf("expected bingo on B, got %s", got.Type)
	}

	_ = b.Close()
	select {
	case id := <-handler.left:
		if id != peerB.id {
			t.Fatalf("unexpected disconnect %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("disconnect not reported")
	}

	host.Disconnect(peerA.id)
	select {
	case id := <-handler.left:
		if id != peerA.id {
			t.Fatalf("unexpected disconnect %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server-side disconnect not reported")
	}
	if host.Peers() != 0 {
		t.Fatalf("expected no peers, got %d", host.Peers())
	}
}

type clientHandler struct {
	messages chan protocol.Message
	lost     chan struct{}
}

func (h *clientHandler) HandleMessage(msg protocol.Message) { h.messages <- msg }
func (h *clientHandler) Disconnected()                      { close(h.lost) }

func TestClientRoundTrip(t *testing.T) {
	handler := newRecordingHandler(10)
	host, server := startHost(t, handler, HostOptions{Heartbeat: 50 * time.Millisecond})

	client, err := Dial(context.Background(), wsURL(server), ClientOptions{Heartbeat: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch := &clientHandler{messages: make(chan protocol.Message, 8), lost: make(chan struct{})}
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(context.Background(), ch) }()

	login, _ := protocol.NewMessage(protocol.TypeLogin, protocol.LoginPayload{PlayerName: "Eva"}, "Eva")
	if err := client.Send(login); err != nil {
		t.Fatalf("send login: %v", err)
	}
	peer := waitAdmitted(t, handler)

	// several heartbeats pass without traffic
	time.Sleep(300 * time.Millisecond)

	msg, _ := protocol.NewMessage(protocol.TypeBingo, protocol.BingoPayload{Winner: "Eva"}, protocol.ServerID)
	if !host.Send(peer.id, msg) {
		t.Fatalf("host send failed")
	}
	select {
	case got := <-ch.messages:
		if got.Type != protocol.TypeBingo {
			t.Fatalf("unexpected %s", got.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("client did not receive message")
	}

	host.Disconnect(peer.id)
	select {
	case <-ch.lost:
	case <-time.After(3 * time.Second):
		t.Fatalf("client did not notice host loss")
	}
	if err := <-runErr; err == nil {
		t.Fatalf("expected run to report lost connection")
	}
	if err := client.Send(login); !errors.Is(err, ErrSendFailure) {
		t.Fatalf("expected send failure after close, got %v", err)
	}
}

func TestRoomEndpoints(t *testing.T) {
	_, server := startHost(t, newRecordingHandler(10), HostOptions{JoinURL: "ws://192.168.1.5:5000/ws"})

	resp, err := http.Get(server.URL + "/room")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	defer resp.Body.Close()
	var info roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if info.Code != "123456" || info.Capacity != 10 || info.JoinURL == "" {
		t.Fatalf("unexpected room info %+v", info)
	}

	qr, err := http.Get(server.URL + "/room/qr")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	defer qr.Body.Close()
	if qr.StatusCode != http.StatusOK || qr.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected qr response %d %s", qr.StatusCode, qr.Header.Get("Content-Type"))
	}

	health, err := http.Get(server.URL + "/healthz")
	if err != nil || health.StatusCode != http.StatusOK {
		t.Fatalf("health check failed: %v", err)
	}
	health.Body.Close()
}

func TestJoinURL(t *testing.T) {
	cases := map[string]string{
		"192.168.1.5":          "ws://192.168.1.5:5000/ws",
		"192.168.1.5:6000":     "ws://192.168.1.5:6000/ws",
		"ws://example.test/ws": "ws://example.test/ws",
	}
	for in, want := range cases {
		if got := JoinURL(in, 5000); got != want {
			t.Fatalf("JoinURL(%q) = %q, want %q", in, got, want)
		}
	}
}
