// Package bus carries user actions from channels to the widget hub and widget
// events back to the channel that owns the session.
//
// The bus also knows which sessions are open: a session opens when its
// channel publishes ActionOpen and stops receiving events once the channel
// publishes ActionClose. The closed event that confirms a close is always
// delivered, so channels can release their own state.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"hrchat/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based bus for in-process communication.
type InMemoryBus struct {
	inbound  chan domain.UserAction
	handlers map[string]func(domain.WidgetEvent)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger

	liveMu sync.Mutex
	live   map[string]struct{}
}

// New creates an InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.UserAction, bufferSize),
		handlers: make(map[string]func(domain.WidgetEvent)),
		live:     make(map[string]struct{}),
		logger:   logger,
	}
}

func sessionKey(channel, sessionID string) string {
	return channel + ":" + sessionID
}

// Publish queues action for the hub, blocking up to publishTimeout when the
// buffer is full. Open and close actions update the session table before
// they are queued.
func (b *InMemoryBus) Publish(action domain.UserAction) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "kind", action.Kind)
		return
	}

	switch action.Kind {
	case domain.ActionOpen:
		b.setLive(action.Channel, action.SessionID, true)
	case domain.ActionClose:
		b.setLive(action.Channel, action.SessionID, false)
	}

	select {
	case b.inbound <- action:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", action.Channel, "session", action.SessionID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- action:
		case <-timer.C:
			b.logger.Error("action dropped: bus full",
				"channel", action.Channel,
				"session", action.SessionID,
				"kind", action.Kind,
			)
		}
	}
}

func (b *InMemoryBus) setLive(channel, sessionID string, open bool) {
	key := sessionKey(channel, sessionID)
	b.liveMu.Lock()
	defer b.liveMu.Unlock()
	if open {
		b.live[key] = struct{}{}
	} else {
		delete(b.live, key)
	}
}

// Live reports whether the session was opened and not yet closed by its channel.
func (b *InMemoryBus) Live(channel, sessionID string) bool {
	b.liveMu.Lock()
	defer b.liveMu.Unlock()
	_, ok := b.live[sessionKey(channel, sessionID)]
	return ok
}

func (b *InMemoryBus) Subscribe() <-chan domain.UserAction {
	return b.inbound
}

// SendOutbound hands ev to the handler registered for its channel. Events for
// sessions that are not open are dropped, except the closed event.
func (b *InMemoryBus) SendOutbound(ev domain.WidgetEvent) {
	if ev.Kind != domain.EventClosed && !b.Live(ev.Channel, ev.SessionID) {
		b.logger.Debug("dropping event for closed session",
			"channel", ev.Channel,
			"session", ev.SessionID,
			"type", ev.Kind,
		)
		return
	}

	b.mu.RLock()
	handler, ok := b.handlers[ev.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", ev.Channel, "type", ev.Kind)
		return
	}
	handler(ev)
}

// OnOutbound registers the handler for a channel's events, replacing any
// earlier one.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.WidgetEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close ends the subscription. Publishing afterwards is a logged no-op.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
