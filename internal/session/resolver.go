// Package session resolves which company and client a widget instance talks for.
package session

import (
	"context"
	"log/slog"
	"sync"

	"hrchat/internal/domain"
	"hrchat/internal/metrics"
)

// Resolver determines the session identity once per widget mount: it adopts
// the injected client, or asks the client directory for the company's first
// client, and remembers the result in the local store.
type Resolver struct {
	injected   domain.Injected
	directory  domain.ClientDirectory
	store      domain.KeyValueStore
	hideWidget func()
	logger     *slog.Logger

	mu       sync.RWMutex
	identity domain.Identity
	closed   bool
}

type ResolverConfig struct {
	Injected   domain.Injected
	Directory  domain.ClientDirectory
	Store      domain.KeyValueStore // optional
	HideWidget func()               // optional; called before every resolution
	Logger     *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		injected:   cfg.Injected,
		directory:  cfg.Directory,
		store:      cfg.Store,
		hideWidget: cfg.HideWidget,
		logger:     cfg.Logger,
	}
}

// Resolve runs the resolution sequence. It does not retry; a failed or empty
// directory lookup leaves the client unresolved until the host calls Resolve again.
func (r *Resolver) Resolve(ctx context.Context) {
	if r.hideWidget != nil {
		r.hideWidget()
	}

	company, client := r.injected.Company, r.injected.Client
	r.logger.Info("injected identity", "company", company, "client", client)

	if !r.set(func(id *domain.Identity) { id.CompanyName = company }) {
		return
	}

	switch {
	case client != "":
		r.adoptClient(ctx, client)
	case company != "":
		r.lookup(ctx, company)
	}
}

func (r *Resolver) lookup(ctx context.Context, company string) {
	if r.directory == nil {
		r.logger.Warn("no client directory configured", "company", company)
		return
	}
	clients, err := r.directory.LookupClients(ctx, company)
	if err != nil {
		metrics.LookupErrors.Inc()
		r.logger.Error("client lookup failed", "company", company, "err", err)
		return
	}
	if len(clients) == 0 {
		metrics.LookupMisses.Inc()
		r.logger.Warn("no clients found", "company", company)
		return
	}
	metrics.LookupsTotal.Inc()
	r.logger.Info("fetched client", "company", company, "client", clients[0])
	r.adoptClient(ctx, clients[0])
}

func (r *Resolver) adoptClient(ctx context.Context, client string) {
	if !r.set(func(id *domain.Identity) { id.ClientName = client }) {
		r.logger.Debug("resolver closed, dropping client", "client", client)
		return
	}
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, domain.KeyClientName, client); err != nil {
		r.logger.Debug("persist client name failed", "err", err)
	}
}

// set applies fn unless the resolver was closed. It reports whether fn ran.
func (r *Resolver) set(fn func(*domain.Identity)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn(&r.identity)
	return true
}

// Identity returns the identity resolved so far.
func (r *Resolver) Identity() domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}

// Close detaches the resolver; results of a lookup still in flight are dropped.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
