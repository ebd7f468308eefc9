// Package widget hosts many concurrent widget sessions. Each session pairs a
// resolver with a conversation controller, created when a channel opens it
// and torn down when the channel closes it.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hrchat/internal/config"
	"hrchat/internal/conversation"
	"hrchat/internal/domain"
	"hrchat/internal/metrics"
	"hrchat/internal/session"
)

const defaultConcurrency = 64

// Hub consumes user actions from the bus and drives the matching session.
type Hub struct {
	bus         domain.MessageBus
	directory   domain.ClientDirectory
	answers     domain.AnswerService
	store       domain.KeyValueStore
	copy        *config.WidgetCopy
	defaults    domain.Injected
	delay       time.Duration
	concurrency int
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

type HubConfig struct {
	Bus           domain.MessageBus
	Directory     domain.ClientDirectory
	Answers       domain.AnswerService
	Store         domain.KeyValueStore
	Copy          *config.WidgetCopy
	Defaults      domain.Injected // used for fields an open action leaves empty
	GreetingDelay time.Duration
	Concurrency   int // max actions handled in parallel (default 64)
	Logger        *slog.Logger
}

// Session is one mounted widget.
type Session struct {
	Key        string
	Channel    string
	ID         string
	Resolver   *session.Resolver
	Controller *conversation.Controller

	cancel context.CancelFunc
	ctx    context.Context
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Hub{
		bus:         cfg.Bus,
		directory:   cfg.Directory,
		answers:     cfg.Answers,
		store:       cfg.Store,
		copy:        cfg.Copy,
		defaults:    cfg.Defaults,
		delay:       cfg.GreetingDelay,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		sessions:    make(map[string]*Session),
	}
}

func sessionKey(channel, id string) string {
	return channel + ":" + id
}

// Run consumes actions until ctx ends or the bus closes, then closes every
// open session and waits for in-flight work.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("widget hub started", "concurrency", h.concurrency)

	sem := make(chan struct{}, h.concurrency)
	inbound := h.bus.Subscribe()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("widget hub stopping")
			return
		case action, ok := <-inbound:
			if !ok {
				h.logger.Info("inbound channel closed, widget hub stopping")
				return
			}
			h.dispatch(ctx, action, sem)
		}
	}
}

// dispatch handles open, input and close inline so a session's lifecycle
// follows the order of the actions. Slow work runs in its own goroutine.
func (h *Hub) dispatch(ctx context.Context, action domain.UserAction, sem chan struct{}) {
	switch action.Kind {
	case domain.ActionOpen:
		s := h.open(ctx, action)
		h.spawn(sem, func() { s.Resolver.Resolve(s.ctx) })
	case domain.ActionClose:
		h.close(action.Channel, action.SessionID, true)
	case domain.ActionInput:
		if s := h.Session(action.Channel, action.SessionID); s != nil {
			s.Controller.SetInput(action.Text)
		}
	case domain.ActionStart:
		s := h.lookup(action)
		if s == nil {
			return
		}
		h.spawn(sem, func() {
			if err := s.Controller.StartConversation(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Debug("start conversation", "session", s.Key, "err", err)
			}
		})
	case domain.ActionSubmit:
		s := h.lookup(action)
		if s == nil {
			return
		}
		text := action.Text
		if text == "" {
			// the draft as of this action, not as of when the goroutine runs
			text = s.Controller.Input()
		}
		h.spawn(sem, func() { h.submit(s, text) })
	default:
		h.logger.Warn("unknown action", "kind", action.Kind, "channel", action.Channel)
	}
}

func (h *Hub) spawn(sem chan struct{}, fn func()) {
	sem <- struct{}{}
	h.wg.Add(1)
	go func() {
		defer func() {
			<-sem
			h.wg.Done()
		}()
		fn()
	}()
}

func (h *Hub) submit(s *Session, text string) {
	err := s.Controller.SubmitQuestion(s.ctx, text)
	switch {
	case err == nil, errors.Is(err, conversation.ErrPending), errors.Is(err, conversation.ErrIdentityUnresolved):
		// the controller already raised an alert for these
	case errors.Is(err, conversation.ErrNotActive):
		h.logger.Debug("question before start", "session", s.Key)
	default:
		h.logger.Debug("submit failed", "session", s.Key, "err", err)
	}
}

func (h *Hub) lookup(action domain.UserAction) *Session {
	s := h.Session(action.Channel, action.SessionID)
	if s == nil {
		h.logger.Warn("action for unknown session",
			"kind", action.Kind,
			"channel", action.Channel,
			"session", action.SessionID,
		)
	}
	return s
}

// open creates the session. An existing session with the same key is
// replaced without a closed event, so the channel keeps treating it as open.
func (h *Hub) open(ctx context.Context, action domain.UserAction) *Session {
	h.close(action.Channel, action.SessionID, false)

	// Injected values come as a pair; a company alone must be looked up,
	// not matched with the default client.
	injected := action.Injected
	if injected.Company == "" && injected.Client == "" {
		injected = h.defaults
	}

	emit := func(ev domain.WidgetEvent) {
		ev.Channel = action.Channel
		ev.SessionID = action.SessionID
		h.bus.SendOutbound(ev)
	}

	sctx, cancel := context.WithCancel(ctx)
	resolver := session.NewResolver(session.ResolverConfig{
		Injected:   injected,
		Directory:  h.directory,
		Store:      h.store,
		HideWidget: func() { emit(domain.WidgetEvent{Kind: domain.EventHide}) },
		Logger:     h.logger.With("channel", action.Channel, "session", action.SessionID),
	})
	controller := conversation.NewController(conversation.ControllerConfig{
		Identity:      resolver,
		Answers:       h.answers,
		Sink:          domain.EventSinkFunc(emit),
		Copy:          h.copy,
		GreetingDelay: h.delay,
		Logger:        h.logger.With("channel", action.Channel, "session", action.SessionID),
	})
	s := &Session{
		Key:        sessionKey(action.Channel, action.SessionID),
		Channel:    action.Channel,
		ID:         action.SessionID,
		Resolver:   resolver,
		Controller: controller,
		cancel:     cancel,
		ctx:        sctx,
	}

	h.mu.Lock()
	h.sessions[s.Key] = s
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()

	h.logger.Info("widget session opened", "channel", s.Channel, "session", s.ID)
	return s
}

func (h *Hub) close(channel, id string, notify bool) {
	key := sessionKey(channel, id)
	h.mu.Lock()
	s, ok := h.sessions[key]
	delete(h.sessions, key)
	h.mu.Unlock()
	if !ok {
		return
	}

	s.Controller.Close()
	s.Resolver.Close()
	s.cancel()
	metrics.ActiveSessions.Dec()
	if notify {
		h.bus.SendOutbound(domain.WidgetEvent{Channel: channel, SessionID: id, Kind: domain.EventClosed})
	}
	h.logger.Info("widget session closed", "channel", channel, "session", id)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()
	for _, s := range open {
		h.close(s.Channel, s.ID, true)
	}
	h.wg.Wait()
}

// Session returns the open session for channel and id, or nil.
func (h *Hub) Session(channel, id string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionKey(channel, id)]
}

// Len reports the number of open sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
