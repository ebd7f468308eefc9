package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const defaultMaxResponseBytes = 1 << 20

// Directory implements domain.ClientDirectory over the client directory REST API.
type Directory struct {
	base     string
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

type DirectoryConfig struct {
	Base             string
	MaxResponseBytes int64
	Logger           *slog.Logger
}

func NewDirectory(cfg DirectoryConfig, client *http.Client) *Directory {
	if client == nil {
		client = SharedHTTPClient()
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Directory{
		base:     strings.TrimRight(cfg.Base, "/"),
		client:   client,
		maxBytes: cfg.MaxResponseBytes,
		logger:   cfg.Logger,
	}
}

type directoryResponse struct {
	Clients []string `json:"clients"`
}

// LookupClients returns the clients registered for company, in directory order.
func (d *Directory) LookupClients(ctx context.Context, company string) ([]string, error) {
	endpoint := d.base + "/clients/api/clients/" + url.PathEscape(company) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("directory", resp); err != nil {
		return nil, err
	}

	var out directoryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, d.maxBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}
	d.logger.Debug("directory lookup", "company", company, "clients", len(out.Clients))
	return out.Clients, nil
}

// Ping checks that the directory host answers HTTP at all.
func (d *Directory) Ping(ctx context.Context) error {
	return ping(ctx, d.client, d.base)
}

func ping(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, base+"/", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", base, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned status %d", base, resp.StatusCode)
	}
	return nil
}
