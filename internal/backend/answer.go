package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hrchat/internal/domain"
)

// Answers implements domain.AnswerService over the retrieval endpoint.
type Answers struct {
	base     string
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

type AnswersConfig struct {
	Base             string
	MaxResponseBytes int64
	Logger           *slog.Logger
}

func NewAnswers(cfg AnswersConfig, client *http.Client) *Answers {
	if client == nil {
		client = SharedHTTPClient()
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Answers{
		base:     strings.TrimRight(cfg.Base, "/"),
		client:   client,
		maxBytes: cfg.MaxResponseBytes,
		logger:   cfg.Logger,
	}
}

// Ask posts one question. The returned Answer may be empty when the service
// found nothing; callers decide on the fallback text.
func (a *Answers) Ask(ctx context.Context, q domain.AnswerRequest) (*domain.AnswerResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal question: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/query_with_retrieval/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("answer request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("answer", resp); err != nil {
		return nil, err
	}

	var out domain.AnswerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, a.maxBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode answer response: %w", err)
	}
	a.logger.Debug("answer received",
		"company", q.CompanyName,
		"client", q.ClientName,
		"latency_ms", time.Since(start).Milliseconds(),
		"empty", out.Answer == "",
	)
	return &out, nil
}

// Ping checks that the answer host answers HTTP at all.
func (a *Answers) Ping(ctx context.Context) error {
	return ping(ctx, a.client, a.base)
}
