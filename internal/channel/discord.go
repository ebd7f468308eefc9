package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hrchat/internal/config"
	"hrchat/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for a Discord bot. Every Discord channel
// or DM the bot talks in is one widget session, driven by !start, !stop and
// !help or by the matching slash commands.
type Discord struct {
	token     string
	guildID   string
	allowFrom []string

	session *discordgo.Session
	chat    *chatRouter
	logger  *slog.Logger
	send    func(channelID, text string)
}

type DiscordConfig struct {
	Token     string
	GuildID   string   // empty = every guild and DM
	AllowFrom []string // user IDs; empty = allow all
	Injected  domain.Injected
	Copy      *config.WidgetCopy
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Discord{
		token:     cfg.Token,
		guildID:   cfg.GuildID,
		allowFrom: trimAll(cfg.AllowFrom),
		logger:    cfg.Logger,
	}
	d.send = d.sendMessage
	d.chat = newChatRouter(d.Name(), "!", cfg.Injected, cfg.Copy, cfg.Logger)
	d.chat.send = func(channelID, text string) { d.send(channelID, text) }
	d.chat.typing = func(channelID string) {
		if d.session != nil {
			_ = d.session.ChannelTyping(channelID)
		}
	}
	return d
}

func (d *Discord) Name() string { return "discord" }

// Start connects to the Discord gateway and serves messages until ctx ends.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session
	d.chat.attach(bus)

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(s.State.User.ID, m)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		reply := d.handleCommand(i.ChannelID, interactionUser(i), i.ApplicationCommandData())
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: reply},
		}); err != nil {
			d.logger.Warn("discord interaction response failed", "err", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)
	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	d.chat.closeAll()
	return session.Close()
}

// Stop is a no-op; the gateway closes when Start's context ends.
func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, sessionID string, content string) error {
	d.send(sessionID, content)
	return nil
}

func (d *Discord) handleMessage(selfID string, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == selfID || m.Author.Bot {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}
	if !allowed(d.allowFrom, m.Author.ID) {
		d.logger.Warn("unauthorized discord user", "user_id", m.Author.ID, "username", m.Author.Username)
		return
	}
	d.chat.handle(m.ChannelID, m.Content)
}

// handleCommand runs a slash command and returns the interaction reply.
func (d *Discord) handleCommand(channelID, userID string, data discordgo.ApplicationCommandInteractionData) string {
	if !allowed(d.allowFrom, userID) {
		d.logger.Warn("unauthorized discord user", "user_id", userID)
		return "Unauthorized. Your user ID is not in the allow list."
	}
	d.logger.Info("discord slash command", "command", data.Name, "channel_id", channelID)
	if data.Name != "ask" {
		d.chat.command(channelID, data.Name)
		return "/" + data.Name
	}
	var question string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			question = strings.TrimSpace(opt.StringValue())
		}
	}
	d.chat.text(channelID, question)
	return question
}

func interactionUser(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

func (d *Discord) sendMessage(channelID, content string) {
	if d.session == nil {
		return
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{Name: "start", Description: "Start a conversation with the HR assistant"},
		{Name: "stop", Description: "End the conversation"},
		{Name: "help", Description: "Show available commands"},
		{
			Name:        "ask",
			Description: "Ask the HR assistant a question",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "question",
					Description: "Your question",
					Required:    true,
				},
			},
		},
	}

	for _, cmd := range commands {
		if _, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, cmd); err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}
