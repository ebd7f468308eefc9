package channel

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"hrchat/internal/config"
	"hrchat/internal/domain"
)

// chatRouter maps the conversations of a chat network onto widget sessions.
// Each chat is one session: the start command mounts it and leaves the
// welcome screen, plain text is submitted as a question, and bot messages
// and alerts are sent back as chat messages.
type chatRouter struct {
	channel  string
	prefix   string // how users type a command, e.g. "/" or "!"
	injected domain.Injected
	copy     config.WidgetCopy
	logger   *slog.Logger

	send   func(chatID, text string)
	typing func(chatID string) // optional

	bus   domain.MessageBus
	mu    sync.Mutex
	chats map[string]bool
}

func newChatRouter(channel, prefix string, injected domain.Injected, cp *config.WidgetCopy, logger *slog.Logger) *chatRouter {
	if logger == nil {
		logger = slog.Default()
	}
	c := config.DefaultCopy()
	if cp != nil {
		c = *cp
	}
	return &chatRouter{
		channel:  channel,
		prefix:   prefix,
		injected: injected,
		copy:     c,
		logger:   logger,
		send:     func(string, string) {},
		chats:    make(map[string]bool),
	}
}

func (r *chatRouter) attach(bus domain.MessageBus) {
	r.bus = bus
	bus.OnOutbound(r.channel, r.render)
}

// command handles start, stop and help. name comes without the prefix.
func (r *chatRouter) command(chatID, name string) {
	switch strings.ToLower(name) {
	case "start":
		r.publish(chatID, domain.ActionOpen, "")
		r.mu.Lock()
		r.chats[chatID] = true
		r.mu.Unlock()
		r.send(chatID, r.copy.WelcomeTitle+"\n\n"+r.copy.WelcomeText)
		r.publish(chatID, domain.ActionStart, "")
	case "stop":
		r.publish(chatID, domain.ActionClose, "")
	case "help":
		r.send(chatID, "Send "+r.prefix+"start to begin a conversation, then ask your question.\n"+
			r.prefix+"stop ends the conversation.")
	default:
		r.send(chatID, "Unknown command. Type "+r.prefix+"help for available commands.")
	}
}

// text submits a question for an open chat and hints at the start command
// otherwise.
func (r *chatRouter) text(chatID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if !r.isOpen(chatID) {
		r.send(chatID, "Send "+r.prefix+"start to "+strings.ToLower(r.copy.StartLabel)+".")
		return
	}
	r.logger.Info("chat message received", "channel", r.channel, "chat_id", chatID, "text_len", len(text))
	r.publish(chatID, domain.ActionSubmit, text)
}

// handle treats text starting with the prefix as a command.
func (r *chatRouter) handle(chatID, text string) {
	text = strings.TrimSpace(text)
	if name, ok := strings.CutPrefix(text, r.prefix); ok && r.prefix != "" {
		name, _, _ = strings.Cut(name, " ")
		r.command(chatID, name)
		return
	}
	r.text(chatID, text)
}

func (r *chatRouter) isOpen(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[chatID]
}

func (r *chatRouter) render(ev domain.WidgetEvent) {
	switch ev.Kind {
	case domain.EventMessage:
		if ev.Message != nil && ev.Message.IsBot {
			r.send(ev.SessionID, ev.Message.Text)
		}
	case domain.EventAlert:
		r.send(ev.SessionID, ev.Alert)
	case domain.EventPending:
		if ev.Pending && r.typing != nil {
			r.typing(ev.SessionID)
		}
	case domain.EventClosed:
		r.mu.Lock()
		delete(r.chats, ev.SessionID)
		r.mu.Unlock()
	}
}

func (r *chatRouter) publish(chatID string, kind domain.ActionKind, text string) {
	action := domain.UserAction{
		Channel:   r.channel,
		SessionID: chatID,
		Kind:      kind,
		Text:      text,
	}
	if kind == domain.ActionOpen {
		action.Injected = r.injected
	}
	r.bus.Publish(action)
}

// closeAll closes every chat still open, on shutdown.
func (r *chatRouter) closeAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.publish(id, domain.ActionClose, "")
	}
}

// allowed reports whether id is on the list; an empty list allows everyone.
func allowed(list []string, id string) bool {
	return len(list) == 0 || slices.Contains(list, id)
}

func trimAll(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitMessage cuts text into chunks of at most max bytes, at the last
// newline past the half when there is one. Cuts never split a UTF-8 sequence.
func splitMessage(text string, max int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= max {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:max], "\n")
		if cutAt < max/2 {
			cutAt = max
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				// max is smaller than one rune
				_, size := utf8.DecodeRuneInString(text)
				cutAt = size
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
