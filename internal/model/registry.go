package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// entry pairs a ready model with the version of the parameters it was
// built from.
type entry struct {
	model   Model
	version string
}

// Registry holds the active model per channel and supports atomic
// hot-reload of parameters without blocking in-flight predictions.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.Channel]entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Predictions return
// ErrModelNotReady until models are installed.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[domain.Channel]entry),
		logger:  logger,
	}
}

// Get returns the active model for a channel.
func (r *Registry) Get(channel domain.Channel) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[channel]
	if !ok {
		return nil, fmt.Errorf("%w: no model installed for channel %s", domain.ErrModelNotReady, channel)
	}
	return e.model, nil
}

// Version returns the parameter version of a channel's active model, or
// an empty string if none is installed.
func (r *Registry) Version(channel domain.Channel) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[channel].version
}

// Install parses stored parameters and swaps the channel's model in
// place. In-flight predictions finish against the old model.
func (r *Registry) Install(p *domain.ModelParams) error {
	m, err := Parse(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.entries[p.Channel] = entry{model: m, version: p.Version}
	r.mu.Unlock()

	r.logger.Info("model installed",
		"channel", p.Channel,
		"version", p.Version)
	return nil
}

// ReloadAll rebuilds the whole registry from a parameter set and swaps
// it atomically. A parse failure leaves the current registry untouched.
func (r *Registry) ReloadAll(paramSet []*domain.ModelParams) error {
	next := make(map[domain.Channel]entry, len(paramSet))
	for _, p := range paramSet {
		m, err := Parse(p)
		if err != nil {
			return fmt.Errorf("reload channel %s: %w", p.Channel, err)
		}
		next[p.Channel] = entry{model: m, version: p.Version}
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()

	r.logger.Info("model registry reloaded", "channels", len(next))
	return nil
}

// LoadDefaults installs the builtin parameters for every channel.
func (r *Registry) LoadDefaults() error {
	for _, channel := range domain.AllChannels {
		p, err := DefaultParams(channel)
		if err != nil {
			return err
		}
		if err := r.Install(p); err != nil {
			return err
		}
	}
	return nil
}

// Hydrate loads stored parameters from the repository, seeding the
// store with builtin defaults for any channel that has none. Models are
// shared across tenants and live under domain.GlobalTenant.
func (r *Registry) Hydrate(ctx context.Context, repo domain.Repository) error {
	stored, err := repo.ListModelParams(ctx, domain.GlobalTenant)
	if err != nil {
		return fmt.Errorf("list model params: %w", err)
	}

	byChannel := make(map[domain.Channel]*domain.ModelParams, len(stored))
	for _, p := range stored {
		byChannel[p.Channel] = p
	}

	for _, channel := range domain.AllChannels {
		p, ok := byChannel[channel]
		if !ok {
			p, err = DefaultParams(channel)
			if err != nil {
				return err
			}
			if err := repo.SaveModelParams(ctx, domain.GlobalTenant, p); err != nil {
				r.logger.Warn("failed to seed default model params",
					"channel", channel,
					"error", err)
			}
		}
		if err := r.Install(p); err != nil {
			return err
		}
	}
	return nil
}
