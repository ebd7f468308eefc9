package domain

import "context"

// Channel is the interface for a widget front end (CLI, WebSocket, Telegram, Discord, Slack).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, sessionID string, content string) error
}
