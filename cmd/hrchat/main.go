package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"hrchat/internal/backend"
	"hrchat/internal/config"
	"hrchat/internal/domain"
	"hrchat/internal/session"
	"hrchat/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string   // overridable via --config flag
	envFiles   []string // overridable via --env-file flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "hrchat",
		Short:        "hrchat: HR assistant chat widget",
		Long:         "hrchat hosts the HR assistant widget in a terminal, behind a WebSocket endpoint for web pages, and on Telegram, Discord and Slack.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.hrchat/config.json)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files providing COMPANY_NAME and CLIENT_NAME")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadRuntime loads dotenv files and the config, falling back to defaults when
// the config file is missing, and installs the configured logger. The
// returned func closes the log file.
func loadRuntime() (*config.Config, func(), error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, nil, fmt.Errorf("load env file: %w", err)
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(config.ExpandPath(cfgPath)); statErr == nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
		cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
	}

	closeLog, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

func setupLogger(cfg *config.Config) (func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func newBackends(cfg *config.Config) (*backend.Directory, *backend.Answers) {
	client := backend.SharedHTTPClient()
	dir := backend.NewDirectory(backend.DirectoryConfig{
		Base:             cfg.Service.DirectoryBase,
		MaxResponseBytes: cfg.Service.MaxResponseBytes,
		Logger:           logger,
	}, client)
	answers := backend.NewAnswers(backend.AnswersConfig{
		Base:             cfg.Service.AnswerBase,
		MaxResponseBytes: cfg.Service.MaxResponseBytes,
		Logger:           logger,
	}, client)
	return dir, answers
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the widget in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the widget over WebSocket and the chat networks",
		Long:  "Starts every enabled network channel and the widget hub. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func resolveCmd() *cobra.Command {
	var company, client string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the company and client this widget would talk for",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()

			injected := cfg.Injected()
			if company != "" {
				injected.Company = company
			}
			if client != "" {
				injected.Client = client
			}

			var kv domain.KeyValueStore
			if st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger); err != nil {
				logger.Debug("store unavailable, client name will not be persisted", "err", err)
			} else {
				defer st.Close()
				kv = st
			}

			dir, _ := newBackends(cfg)
			r := session.NewResolver(session.ResolverConfig{
				Injected:  injected,
				Directory: dir,
				Store:     kv,
				Logger:    logger,
			})
			r.Resolve(cmd.Context())

			id := r.Identity()
			data, _ := json.MarshalIndent(struct {
				domain.Identity
				Resolved bool `json:"resolved"`
			}{id, id.Resolved()}, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company name (overrides COMPANY_NAME)")
	cmd.Flags().StringVar(&client, "client", "", "client name (overrides CLIENT_NAME)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service reachability and the stored client name",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			inj := cfg.Injected()
			logger.Info("injected", "company", inj.Company, "client", inj.Client)

			dir, answers := newBackends(cfg)
			for _, svc := range []struct {
				name string
				base string
				ping func(context.Context) error
			}{
				{"directory", cfg.Service.DirectoryBase, dir.Ping},
				{"answers", cfg.Service.AnswerBase, answers.Ping},
			} {
				if err := svc.ping(ctx); err != nil {
					logger.Info("service", "name", svc.name, "base", svc.base, "reachable", false, "err", err)
				} else {
					logger.Info("service", "name", svc.name, "base", svc.base, "reachable", true)
				}
			}

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "ok", false, "err", err)
				return nil
			}
			defer st.Close()
			name, ok, err := st.Get(ctx, domain.KeyClientName)
			switch {
			case err != nil:
				logger.Info("stored client", "err", err)
			case !ok:
				logger.Info("stored client", "clientName", "")
			default:
				at, _, _ := st.UpdatedAt(ctx, domain.KeyClientName)
				logger.Info("stored client", "clientName", name, "updated", at.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. service.answerBase)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. widget.company acme)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every settable path with its current value (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, path := range slices.Sorted(maps.Keys(paths)) {
				data, _ := json.Marshal(paths[path])
				fmt.Printf("%s = %s\n", path, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
