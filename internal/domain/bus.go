package domain

// ActionKind is a user action coming from a channel.
type ActionKind string

const (
	ActionOpen   ActionKind = "open"
	ActionStart  ActionKind = "start"
	ActionSubmit ActionKind = "submit"
	ActionInput  ActionKind = "input"
	ActionClose  ActionKind = "close"
)

// UserAction is published by channels and consumed by the widget hub.
type UserAction struct {
	Channel   string
	SessionID string
	Kind      ActionKind
	Text      string
	Injected  Injected // only read on ActionOpen
}

// EventKind classifies a widget event.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventPending EventKind = "pending"
	EventMode    EventKind = "mode"
	EventAlert   EventKind = "alert"
	EventHide    EventKind = "hide"
	EventClosed  EventKind = "closed"
)

// WidgetEvent is emitted on every observable state change of a widget session.
type WidgetEvent struct {
	Channel   string       `json:"-"`
	SessionID string       `json:"-"`
	Kind      EventKind    `json:"type"`
	Message   *ChatMessage `json:"message,omitempty"`
	Pending   bool         `json:"pending"`
	Mode      Mode         `json:"mode,omitempty"`
	Alert     string       `json:"alert,omitempty"`
}

// EventSink receives widget events. Implementations must not block for long.
type EventSink interface {
	Emit(ev WidgetEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev WidgetEvent)

func (f EventSinkFunc) Emit(ev WidgetEvent) { f(ev) }

// MessageBus routes user actions to the hub and widget events back to channels.
type MessageBus interface {
	Publish(action UserAction)
	Subscribe() <-chan UserAction
	SendOutbound(ev WidgetEvent)
	OnOutbound(channelName string, handler func(WidgetEvent))
	Close()
}
