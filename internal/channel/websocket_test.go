package channel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hrchat/internal/bus"
	"hrchat/internal/domain"

	"github.com/gorilla/websocket"
)

func newWSServer(t *testing.T, cfg WSConfig) (*WebSocketChannel, *bus.InMemoryBus, *httptest.Server) {
	t.Helper()
	cfg.Logger = quietLogger()
	ws := NewWebSocketChannel(cfg)
	b := bus.New(16, quietLogger())
	ws.attach(b)
	srv := httptest.NewServer(ws.Handler())
	t.Cleanup(srv.Close)
	return ws, b, srv
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextAction(t *testing.T, b *bus.InMemoryBus) domain.UserAction {
	t.Helper()
	select {
	case a := <-b.Subscribe():
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for action")
	}
	return domain.UserAction{}
}

func TestWebSocket_SessionLifecycle(t *testing.T) {
	_, b, srv := newWSServer(t, WSConfig{})
	conn := dial(t, srv, "?company=acme&client=acme-hr", nil)

	var status WSStatus
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != "status" || status.Status != "connected" || status.Session == "" {
		t.Fatalf("unexpected status frame %+v", status)
	}

	open := nextAction(t, b)
	if open.Kind != domain.ActionOpen || open.SessionID != status.Session || open.Channel != "websocket" {
		t.Fatalf("unexpected open %+v", open)
	}
	if open.Injected != (domain.Injected{Company: "acme", Client: "acme-hr"}) {
		t.Fatalf("query parameters not injected: %+v", open.Injected)
	}

	conn.WriteJSON(WSFrame{Type: "start"})
	conn.WriteJSON(WSFrame{Type: "submit", Text: "How many PTO days?"})
	if a := nextAction(t, b); a.Kind != domain.ActionStart {
		t.Fatalf("expected start, got %+v", a)
	}
	if a := nextAction(t, b); a.Kind != domain.ActionSubmit || a.Text != "How many PTO days?" {
		t.Fatalf("expected submit, got %+v", a)
	}

	b.SendOutbound(domain.WidgetEvent{
		Channel:   "websocket",
		SessionID: status.Session,
		Kind:      domain.EventMessage,
		Message:   &domain.ChatMessage{Text: "You get 20 PTO days", IsBot: true},
	})
	var ev struct {
		Type    string             `json:"type"`
		Message domain.ChatMessage `json:"message"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "message" || ev.Message.Text != "You get 20 PTO days" || !ev.Message.IsBot {
		t.Fatalf("unexpected event %+v", ev)
	}

	conn.WriteJSON(WSFrame{Type: "close"})
	if a := nextAction(t, b); a.Kind != domain.ActionClose || a.SessionID != status.Session {
		t.Fatalf("expected close, got %+v", a)
	}
}

func TestWebSocket_DisconnectClosesSession(t *testing.T) {
	_, b, srv := newWSServer(t, WSConfig{})
	conn := dial(t, srv, "", nil)
	nextAction(t, b)
	conn.Close()

	if a := nextAction(t, b); a.Kind != domain.ActionClose {
		t.Fatalf("expected close on disconnect, got %+v", a)
	}
}

func TestWebSocket_RejectsUnknownOrigin(t *testing.T) {
	_, _, srv := newWSServer(t, WSConfig{AllowedOrigins: []string{"https://hr.example.com"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	conn := dial(t, srv, "", http.Header{"Origin": {"https://hr.example.com"}})
	conn.Close()
}

func TestWebSocket_HealthAndMetrics(t *testing.T) {
	_, _, srv := newWSServer(t, WSConfig{MetricsPath: "/metrics"})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "hrchat_uptime_seconds") {
		t.Fatalf("metrics output missing uptime:\n%s", body)
	}
}

func TestWebSocket_SlowClientDoesNotBlockDelivery(t *testing.T) {
	ws := NewWebSocketChannel(WSConfig{Logger: quietLogger()})
	b := bus.New(4, quietLogger())
	ws.attach(b)

	// no write loop: nothing ever drains this client's queue
	client := newWSClient(nil, "slow", 1)
	ws.clients["slow"] = client
	b.Publish(domain.UserAction{Channel: "websocket", SessionID: "slow", Kind: domain.ActionOpen})

	ev := domain.WidgetEvent{
		Channel:   "websocket",
		SessionID: "slow",
		Kind:      domain.EventMessage,
		Message:   &domain.ChatMessage{Text: "answer", IsBot: true},
	}
	done := make(chan struct{})
	go func() {
		for range 3 {
			b.SendOutbound(ev)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked on a client that never reads")
	}

	select {
	case <-client.done:
	default:
		t.Fatal("a client with a full queue should be disconnected")
	}
	if err := ws.write("slow", ev); err == nil {
		t.Fatal("expected writes to a disconnected client to fail")
	}
}
