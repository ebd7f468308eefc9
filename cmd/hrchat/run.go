package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hrchat/internal/bus"
	"hrchat/internal/channel"
	"hrchat/internal/config"
	"hrchat/internal/conversation"
	"hrchat/internal/domain"
	"hrchat/internal/store"
	"hrchat/internal/widget"

	"golang.org/x/sync/errgroup"
)

// app is the widget machinery shared by every front end.
type app struct {
	bus   *bus.InMemoryBus
	hub   *widget.Hub
	store *store.SQLiteStore
	copy  config.WidgetCopy
}

func newApp(cfg *config.Config) (*app, error) {
	cp, err := config.LoadCopy(cfg.Widget.CopyFile)
	if err != nil {
		return nil, err
	}

	rt := &app{bus: bus.New(100, logger), copy: cp}

	// The widget only needs the store for a best-effort write, so a broken
	// database degrades to no persistence.
	var kv domain.KeyValueStore
	if st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger); err != nil {
		logger.Warn("store unavailable, client name will not be persisted", "path", cfg.Store.DBPath, "err", err)
	} else {
		rt.store = st
		kv = st
	}

	dir, answers := newBackends(cfg)
	rt.hub = widget.NewHub(widget.HubConfig{
		Bus:           rt.bus,
		Directory:     dir,
		Answers:       answers,
		Store:         kv,
		Copy:          &rt.copy,
		Defaults:      cfg.Injected(),
		GreetingDelay: greetingDelay(cfg.Widget.GreetingDelayMs),
		Logger:        logger,
	})
	return rt, nil
}

// greetingDelay maps the configured milliseconds onto the controller's
// convention, where zero selects the default delay.
func greetingDelay(ms int) time.Duration {
	if ms <= 0 {
		return conversation.NoGreetingDelay
	}
	return time.Duration(ms) * time.Millisecond
}

func (rt *app) close() {
	rt.bus.Close()
	if rt.store != nil {
		rt.store.Close()
	}
}

// run starts the hub and the given channels and waits until ctx ends or a
// channel fails.
func (rt *app) run(ctx context.Context, channels ...domain.Channel) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		rt.hub.Run(hubCtx)
		close(hubDone)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		g.Go(func() error {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(gctx, rt.bus); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	for _, ch := range channels {
		ch.Stop()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runChat(ctx context.Context, cfg *config.Config) error {
	if !cfg.Channels.CLI.Enabled {
		return errors.New("cli channel is disabled (channels.cli.enabled)")
	}
	rt, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	cli := channel.NewCLI(channel.CLIConfig{
		Logger:   logger,
		Copy:     &rt.copy,
		Injected: cfg.Injected(),
		Spinner:  true,
	})
	return rt.run(ctx, cli)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	rt, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	var channels []domain.Channel
	if ws := cfg.Channels.WebSocket; ws.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		channels = append(channels, channel.NewWebSocketChannel(channel.WSConfig{
			Host:           ws.Host,
			Port:           ws.Port,
			Path:           ws.Path,
			AllowedOrigins: ws.AllowedOrigins,
			MetricsPath:    metricsPath,
			Logger:         logger,
		}))
	}
	if tg := cfg.Channels.Telegram; tg.Enabled && tg.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     tg.Token,
			AllowFrom: tg.AllowFrom,
			Injected:  cfg.Injected(),
			Copy:      &rt.copy,
			Logger:    logger,
		}))
	}
	if dc := cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:     dc.Token,
			GuildID:   dc.GuildID,
			AllowFrom: dc.AllowFrom,
			Injected:  cfg.Injected(),
			Copy:      &rt.copy,
			Logger:    logger,
		}))
	}
	if sl := cfg.Channels.Slack; sl.Enabled && sl.BotToken != "" && sl.AppToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken:  sl.BotToken,
			AppToken:  sl.AppToken,
			AllowFrom: sl.AllowFrom,
			Injected:  cfg.Injected(),
			Copy:      &rt.copy,
			Logger:    logger,
		}))
	}
	if len(channels) == 0 {
		return errors.New("no network channel enabled (channels.websocket, telegram, discord or slack)")
	}

	logger.Info("serving widget. Press Ctrl+C to stop.", "channels", len(channels))
	err = rt.run(ctx, channels...)
	logger.Info("shutdown complete")
	return err
}
