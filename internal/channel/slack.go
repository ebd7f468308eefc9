package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hrchat/internal/config"
	"hrchat/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	slackMaxMsgLen = 4000
	slackCommand   = "/hrchat"
)

// Slack implements domain.Channel for Slack over Socket Mode. Every Slack
// channel or DM is one widget session. Users drive it with
// "/hrchat start|stop|help", by messaging the bot directly or by mentioning it.
type Slack struct {
	botToken  string
	appToken  string
	allowFrom []string

	client *slack.Client
	chat   *chatRouter
	logger *slog.Logger
	botUID string
	send   func(channelID, text string)
}

type SlackConfig struct {
	BotToken  string
	AppToken  string
	AllowFrom []string // user IDs; empty = allow all
	Injected  domain.Injected
	Copy      *config.WidgetCopy
	Logger    *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Slack{
		botToken:  cfg.BotToken,
		appToken:  cfg.AppToken,
		allowFrom: trimAll(cfg.AllowFrom),
		logger:    cfg.Logger,
	}
	s.send = s.sendMessage
	s.chat = newChatRouter(s.Name(), slackCommand+" ", cfg.Injected, cfg.Copy, cfg.Logger)
	s.chat.send = func(channelID, text string) { s.send(channelID, text) }
	return s
}

func (s *Slack) Name() string { return "slack" }

// Start connects over Socket Mode and serves events until ctx ends.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)
	s.chat.attach(bus)

	socketClient := socketmode.New(api)
	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				event, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleSlashCommand(cmd)
			default:
				// unacknowledged requests get the socket dropped
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- socketClient.RunContext(ctx) }()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		s.chat.closeAll()
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op; the socket closes when Start's context ends.
func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(ctx context.Context, sessionID string, content string) error {
	s.send(sessionID, content)
	return nil
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// channel messages arrive as mentions; edits and bot posts carry a subtype
		if ev.ChannelType != "im" || ev.SubType != "" || ev.BotID != "" {
			return
		}
		s.route(ev.User, ev.Channel, ev.Text)
	case *slackevents.AppMentionEvent:
		text := ev.Text
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = text[idx+1:]
		}
		s.route(ev.User, ev.Channel, text)
	}
}

func (s *Slack) route(userID, channelID, text string) {
	if userID == "" || userID == s.botUID {
		return
	}
	if !allowed(s.allowFrom, userID) {
		s.logger.Warn("unauthorized slack user", "user_id", userID)
		s.send(channelID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}
	s.chat.handle(channelID, text)
}

// handleSlashCommand treats the first word as a command when it is one and
// the whole text as a question otherwise.
func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	s.logger.Info("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)
	if !allowed(s.allowFrom, cmd.UserID) {
		s.logger.Warn("unauthorized slack user", "user_id", cmd.UserID)
		s.send(cmd.ChannelID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}
	text := strings.TrimSpace(cmd.Text)
	name, _, _ := strings.Cut(text, " ")
	switch strings.ToLower(name) {
	case "start", "stop", "help":
		s.chat.command(cmd.ChannelID, name)
	case "":
		s.chat.command(cmd.ChannelID, "help")
	default:
		s.chat.text(cmd.ChannelID, text)
	}
}

func (s *Slack) sendMessage(channelID, content string) {
	if s.client == nil {
		return
	}
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(
			channelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		)
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}
