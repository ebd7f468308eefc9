package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"hrchat/internal/domain"
	"hrchat/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Host           string
	Port           int
	Path           string   // WebSocket endpoint path (default: /ws)
	AllowedOrigins []string // empty = allow all
	MetricsPath    string   // served when non-empty
	Logger         *slog.Logger
}

// WebSocketChannel is the backend of the embedded web widget. Each
// connection is one widget session; the page's injected company and client
// arrive as the company and client query parameters of the upgrade request.
type WebSocketChannel struct {
	host        string
	port        int
	path        string
	metricsPath string
	bus         domain.MessageBus
	logger      *slog.Logger
	server      *http.Server
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

const (
	wsWriteWait = 10 * time.Second
	wsSendQueue = 64
)

// wsClient queues outbound frames for a single writer goroutine, so a slow
// page never blocks the bus.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	out       chan any
	done      chan struct{}
	stopOnce  sync.Once
}

func newWSClient(conn *websocket.Conn, sessionID string, queue int) *wsClient {
	return &wsClient{
		conn:      conn,
		sessionID: sessionID,
		out:       make(chan any, queue),
		done:      make(chan struct{}),
	}
}

// WSFrame is a frame sent by the widget page.
type WSFrame struct {
	Type string `json:"type"` // "start" | "submit" | "input" | "close"
	Text string `json:"text,omitempty"`
}

// WSStatus is sent once after the upgrade.
type WSStatus struct {
	Type    string `json:"type"` // always "status"
	Status  string `json:"status"`
	Session string `json:"session"`
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ws := &WebSocketChannel{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.Path,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
		clients:     make(map[string]*wsClient),
	}
	origins := slices.Clone(cfg.AllowedOrigins)
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return ws
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Handler returns the HTTP routes of the channel.
func (ws *WebSocketChannel) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Get(ws.path, ws.handleUpgrade)
	if ws.metricsPath != "" {
		r.Get(ws.metricsPath, metrics.Collector.Handler())
	}
	return r
}

func (ws *WebSocketChannel) attach(bus domain.MessageBus) {
	ws.bus = bus
	bus.OnOutbound(ws.Name(), ws.deliver)
}

// Start serves the widget endpoint until ctx ends.
func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.MessageBus) error {
	ws.attach(bus)

	ws.server = &http.Server{
		Addr:              net.JoinHostPort(ws.host, strconv.Itoa(ws.port)),
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ws.logger.Info("websocket server starting", "addr", ws.server.Addr, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ws.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop is a no-op; the server shuts down when Start's context is cancelled.
func (ws *WebSocketChannel) Stop() error { return nil }

func (ws *WebSocketChannel) Send(ctx context.Context, sessionID string, content string) error {
	return ws.write(sessionID, domain.WidgetEvent{
		Kind:    domain.EventMessage,
		Message: &domain.ChatMessage{Text: content, IsBot: true},
	})
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	q := r.URL.Query()
	client := newWSClient(conn, uuid.NewString(), wsSendQueue)
	sid := client.sessionID
	go client.writeLoop(ws.logger)

	ws.mu.Lock()
	ws.clients[sid] = client
	ws.mu.Unlock()
	metrics.ConnectedClients.Inc()

	ws.logger.Info("websocket client connected",
		"session", sid,
		"request_id", middleware.GetReqID(r.Context()),
		"remote", r.RemoteAddr,
	)

	closed := false
	defer func() {
		if !closed {
			ws.publish(sid, domain.ActionClose, "", domain.Injected{})
		}
		ws.mu.Lock()
		delete(ws.clients, sid)
		ws.mu.Unlock()
		metrics.ConnectedClients.Dec()
		client.stop()
		ws.logger.Info("websocket client disconnected", "session", sid)
	}()

	client.enqueue(WSStatus{Type: "status", Status: "connected", Session: sid})
	ws.publish(sid, domain.ActionOpen, "", domain.Injected{
		Company: q.Get("company"),
		Client:  q.Get("client"),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var frame WSFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			ws.logger.Warn("invalid websocket frame", "err", err)
			continue
		}

		switch frame.Type {
		case "start":
			ws.publish(sid, domain.ActionStart, "", domain.Injected{})
		case "submit":
			ws.publish(sid, domain.ActionSubmit, frame.Text, domain.Injected{})
		case "input":
			ws.publish(sid, domain.ActionInput, frame.Text, domain.Injected{})
		case "close":
			ws.publish(sid, domain.ActionClose, "", domain.Injected{})
			closed = true
			return
		default:
			ws.logger.Debug("unknown websocket frame", "type", frame.Type, "session", sid)
		}
	}
}

func (ws *WebSocketChannel) publish(sid string, kind domain.ActionKind, text string, injected domain.Injected) {
	ws.bus.Publish(domain.UserAction{
		Channel:   ws.Name(),
		SessionID: sid,
		Kind:      kind,
		Text:      text,
		Injected:  injected,
	})
}

func (ws *WebSocketChannel) deliver(ev domain.WidgetEvent) {
	if ev.Kind == domain.EventClosed {
		return
	}
	if err := ws.write(ev.SessionID, ev); err != nil {
		ws.logger.Warn("websocket delivery failed", "session", ev.SessionID, "type", ev.Kind, "err", err)
	}
}

func (ws *WebSocketChannel) write(sessionID string, v any) error {
	ws.mu.RLock()
	client, ok := ws.clients[sessionID]
	ws.mu.RUnlock()
	if !ok {
		return errors.New("no websocket client for session " + sessionID)
	}
	if !client.enqueue(v) {
		return errors.New("websocket client for session " + sessionID + " is gone or too slow")
	}
	return nil
}

// enqueue never blocks. A client whose queue is full is disconnected.
func (c *wsClient) enqueue(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- v:
		return true
	default:
		c.stop()
		return false
	}
}

func (c *wsClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// writeLoop owns every write to the connection. Closing the connection when
// it returns also ends the read loop in handleUpgrade.
func (c *wsClient) writeLoop(logger *slog.Logger) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case v := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(v); err != nil {
				logger.Debug("websocket write failed", "session", c.sessionID, "err", err)
				c.stop()
				return
			}
		}
	}
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, client := range ws.clients {
		client.stop()
	}
}
