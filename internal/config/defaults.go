package config

// Defaults mirror the endpoints the web widget shipped with.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Service: ServiceConfig{
			DirectoryBase:    "http://localhost:8000",
			AnswerBase:       "http://127.0.0.1:8000",
			MaxResponseBytes: 1 << 20,
		},
		Widget: WidgetConfig{
			GreetingDelayMs: 1000,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8081,
				Path:    "/ws",
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
		},
		Store: StoreConfig{
			DBPath: "~/.hrchat/hrchat.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
