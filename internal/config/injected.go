package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"hrchat/internal/domain"

	"github.com/joho/godotenv"
)

// Environment variables carrying the host-injected identity.
const (
	EnvCompanyName = "COMPANY_NAME"
	EnvClientName  = "CLIENT_NAME"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) without overriding variables already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// Injected returns the company and client values injected for this process.
// The environment wins over widget.company / widget.client from the config file.
func (c *Config) Injected() domain.Injected {
	inj := domain.Injected{
		Company: strings.TrimSpace(c.Widget.Company),
		Client:  strings.TrimSpace(c.Widget.Client),
	}
	if v := strings.TrimSpace(os.Getenv(EnvCompanyName)); v != "" {
		inj.Company = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvClientName)); v != "" {
		inj.Client = v
	}
	return inj
}
