// Package conversation owns a widget's transcript and its Welcome/Active
// state machine, and forwards questions to the answer service.
package conversation

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"hrchat/internal/config"
	"hrchat/internal/domain"
	"hrchat/internal/metrics"
)

var (
	ErrNotActive          = errors.New("conversation has not been started")
	ErrIdentityUnresolved = errors.New("client or company not identified")
	ErrPending            = errors.New("a question is already pending")
	ErrClosed             = errors.New("conversation closed")
)

// DefaultGreetingDelay is how long the scripted greeting "types".
const DefaultGreetingDelay = time.Second

// NoGreetingDelay posts the greeting as soon as the conversation starts.
const NoGreetingDelay time.Duration = -1

// Controller is safe for concurrent use. Events reach the sink in the order
// the state changed; the sink must not call back into the controller.
type Controller struct {
	identity domain.IdentitySource
	answers  domain.AnswerService
	sink     domain.EventSink
	copy     config.WidgetCopy
	delay    time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	emitMu   sync.Mutex
	messages []domain.ChatMessage
	input    string
	pending  bool
	mode     domain.Mode
	closed   bool
}

type ControllerConfig struct {
	Identity      domain.IdentitySource
	Answers       domain.AnswerService
	Sink          domain.EventSink   // optional
	Copy          *config.WidgetCopy // nil = config.DefaultCopy()
	GreetingDelay time.Duration      // zero = DefaultGreetingDelay, negative = none
	Logger        *slog.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = domain.EventSinkFunc(func(domain.WidgetEvent) {})
	}
	cp := config.DefaultCopy()
	if cfg.Copy != nil {
		cp = *cfg.Copy
	}
	switch {
	case cfg.GreetingDelay == 0:
		cfg.GreetingDelay = DefaultGreetingDelay
	case cfg.GreetingDelay < 0:
		cfg.GreetingDelay = 0
	}
	return &Controller{
		identity: cfg.Identity,
		answers:  cfg.Answers,
		sink:     cfg.Sink,
		copy:     cp,
		delay:    cfg.GreetingDelay,
		logger:   cfg.Logger,
		mode:     domain.ModeWelcome,
	}
}

// StartConversation leaves the welcome screen and, after the greeting delay,
// posts the scripted greeting. It does nothing once the conversation is active.
// If ctx ends during the delay the greeting is skipped.
func (c *Controller) StartConversation(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.mode != domain.ModeWelcome {
		c.mu.Unlock()
		return nil
	}
	c.mode = domain.ModeActive
	c.pending = true
	c.unlockAndEmit(modeEvent(domain.ModeActive), pendingEvent(true))

	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ctx.Err()
		}
		c.pending = false
		c.unlockAndEmit(pendingEvent(false))
		return ctx.Err()
	case <-timer.C:
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	greeting := domain.ChatMessage{Text: c.copy.Greeting, IsBot: true}
	c.messages = append(c.messages, greeting)
	c.pending = false
	c.unlockAndEmit(messageEvent(greeting), pendingEvent(false))
	return nil
}

// SubmitQuestion appends text as a user message, asks the answer service and
// appends its answer, or a fallback text when there is none or the call fails.
// Blank text is ignored. Transport and decode failures are not returned; they
// end up in the transcript.
func (c *Controller) SubmitQuestion(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.mode != domain.ModeActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return nil
	}

	var id domain.Identity
	if c.identity != nil {
		id = c.identity.Identity()
	}
	if !id.Resolved() {
		metrics.RejectedTotal.Inc()
		c.unlockAndEmit(alertEvent(c.copy.Unidentified))
		return ErrIdentityUnresolved
	}
	if c.pending {
		metrics.RejectedTotal.Inc()
		c.unlockAndEmit(alertEvent(c.copy.Busy))
		return ErrPending
	}

	question := domain.ChatMessage{Text: text}
	c.messages = append(c.messages, question)
	if c.input == text {
		c.input = ""
	}
	c.pending = true
	c.unlockAndEmit(messageEvent(question), pendingEvent(true))

	reply := c.ask(ctx, domain.AnswerRequest{
		Question:    text,
		CompanyName: id.CompanyName,
		ClientName:  id.ClientName,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("conversation closed, dropping reply")
		return nil
	}
	c.messages = append(c.messages, reply)
	c.pending = false
	c.unlockAndEmit(messageEvent(reply), pendingEvent(false))
	return nil
}

func (c *Controller) ask(ctx context.Context, req domain.AnswerRequest) domain.ChatMessage {
	metrics.QuestionsTotal.Inc()
	start := time.Now()
	resp, err := c.answers.Ask(ctx, req)
	metrics.AnswerLatency.ObserveSince(start)

	switch {
	case err != nil:
		metrics.FailuresTotal.Inc()
		c.logger.Error("answer request failed",
			"company", req.CompanyName,
			"client", req.ClientName,
			"err", err,
		)
		return domain.ChatMessage{Text: c.copy.Failure, IsBot: true}
	case resp == nil || resp.Answer == "":
		metrics.NoAnswerTotal.Inc()
		return domain.ChatMessage{Text: c.copy.NoAnswer, IsBot: true}
	default:
		metrics.AnswersTotal.Inc()
		return domain.ChatMessage{Text: resp.Answer, IsBot: true}
	}
}

// SetInput stores the draft the user is typing.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the current draft.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SubmitInput submits the current draft.
func (c *Controller) SubmitInput(ctx context.Context) error {
	c.mu.Lock()
	text := c.input
	c.mu.Unlock()
	return c.SubmitQuestion(ctx, text)
}

// Transcript returns an ordered view of the messages. Each iteration sees the
// messages present when it starts; it can be iterated any number of times.
func (c *Controller) Transcript() iter.Seq[domain.ChatMessage] {
	return func(yield func(domain.ChatMessage) bool) {
		c.mu.Lock()
		msgs := c.messages[:len(c.messages):len(c.messages)]
		c.mu.Unlock()
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}

// State returns a snapshot of the conversation.
func (c *Controller) State() domain.ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.ChatState{
		Messages: slices.Clone(c.messages),
		Input:    c.input,
		Pending:  c.pending,
		Mode:     c.mode,
	}
	if c.identity != nil {
		st.Identity = c.identity.Identity()
	}
	return st
}

func (c *Controller) Mode() domain.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Close tears the controller down. Replies still in flight are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// unlockAndEmit must be called with mu held. emitMu is taken before mu is
// released so events from consecutive critical sections keep their order.
func (c *Controller) unlockAndEmit(evs ...domain.WidgetEvent) {
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, ev := range evs {
		c.sink.Emit(ev)
	}
}

func messageEvent(m domain.ChatMessage) domain.WidgetEvent {
	return domain.WidgetEvent{Kind: domain.EventMessage, Message: &m}
}

func pendingEvent(p bool) domain.WidgetEvent {
	return domain.WidgetEvent{Kind: domain.EventPending, Pending: p}
}

func modeEvent(m domain.Mode) domain.WidgetEvent {
	return domain.WidgetEvent{Kind: domain.EventMode, Mode: m}
}

func alertEvent(text string) domain.WidgetEvent {
	return domain.WidgetEvent{Kind: domain.EventAlert, Alert: text}
}
