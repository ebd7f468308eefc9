package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"hrchat/internal/config"
	"hrchat/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your hrchat installation",
		Long: `Verifies that the configuration, widget copy, local database and the
two remote services are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("hrchat doctor v%s\n\n", version)

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'hrchat init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			if err := config.LoadDotEnv(envFiles...); err != nil {
				r.warn("Env file", err.Error())
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if _, err := config.LoadCopy(cfg.Widget.CopyFile); err != nil {
				r.fail("Widget copy", err.Error())
			} else if cfg.Widget.CopyFile != "" {
				r.pass("Widget copy", cfg.Widget.CopyFile)
			} else {
				r.pass("Widget copy", "built-in")
			}

			inj := cfg.Injected()
			switch {
			case inj.Company == "":
				r.warn("Identity", "COMPANY_NAME not set; questions will be rejected")
			case inj.Client == "":
				r.pass("Identity", fmt.Sprintf("company %q, client from directory", inj.Company))
			default:
				r.pass("Identity", fmt.Sprintf("company %q, client %q", inj.Company, inj.Client))
			}

			if err := checkDatabase(cmd.Context(), cfg.Store.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", cfg.Store.DBPath)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			dir, answers := newBackends(cfg)
			if err := dir.Ping(ctx); err != nil {
				r.fail("Client directory", err.Error())
			} else {
				r.pass("Client directory", cfg.Service.DirectoryBase)
			}
			if err := answers.Ping(ctx); err != nil {
				r.fail("Answer service", err.Error())
			} else {
				r.pass("Answer service", cfg.Service.AnswerBase)
			}

			if ws := cfg.Channels.WebSocket; ws.Enabled {
				addr := net.JoinHostPort(ws.Host, strconv.Itoa(ws.Port))
				if err := checkPort(addr); err != nil {
					r.warn("WebSocket port", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("WebSocket port", addr+" available")
				}
			}
			if tg := cfg.Channels.Telegram; tg.Enabled && len(tg.AllowFrom) == 0 {
				r.warn("Telegram", "no allowFrom list; every Telegram user can chat")
			}
			if dc := cfg.Channels.Discord; dc.Enabled && len(dc.AllowFrom) == 0 && dc.GuildID == "" {
				r.warn("Discord", "no allowFrom list or guildId; anyone who can reach the bot can chat")
			}
			if sl := cfg.Channels.Slack; sl.Enabled && len(sl.AllowFrom) == 0 {
				r.warn("Slack", "no allowFrom list; every workspace member can chat")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned == 0 {
		fmt.Printf("All checks passed.\n")
	}
	return nil
}

// checkDatabase opens the store, which runs migrations, and pings it.
func checkDatabase(ctx context.Context, dbPath string) error {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
