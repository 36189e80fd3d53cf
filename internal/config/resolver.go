package config

import (
	"errors"
	"log/slog"
	"sync/atomic"
)

// Resolver merges Sources key by key. Sources are ordered highest
// precedence first.
type Resolver struct {
	sources []Source
	logger  *slog.Logger
}

// NewResolver creates a resolver over sources, highest precedence first.
func NewResolver(logger *slog.Logger, sources ...Source) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{sources: sources, logger: logger}
}

// Resolve reads every source and merges them. It fails only when no source
// supplies an API key; a broken lower-precedence source is logged and skipped.
func (r *Resolver) Resolve() (*Config, error) {
	var (
		merged  Settings
		names   = make([]string, 0, len(r.sources))
		loadErr error
	)

	for _, src := range r.sources {
		names = append(names, src.Name())

		s, err := src.Load()
		if err != nil {
			r.logger.Warn("config source unreadable", "source", src.Name(), "error", err)
			loadErr = errors.Join(loadErr, err)
			continue
		}
		merged = merged.overlay(s)
	}

	if merged.APIKey == nil || *merged.APIKey == "" {
		err := ErrMissingAPIKey
		if loadErr != nil {
			err = errors.Join(ErrMissingAPIKey, loadErr)
		}
		return nil, &ConfigError{Sources: names, Err: err}
	}

	cfg := &Config{APIKey: *merged.APIKey, ExtraArgs: merged.ExtraArgs}
	if merged.APIURL != nil {
		cfg.APIURL = *merged.APIURL
	}
	if merged.UploaderPath != nil {
		cfg.UploaderPath = *merged.UploaderPath
	}
	if merged.Plugin != nil {
		cfg.Plugin = *merged.Plugin
	}
	if cfg.ExtraArgs == nil {
		cfg.ExtraArgs = map[string]string{}
	}
	return cfg, nil
}

// Handle publishes the latest resolved Config to concurrent readers.
//
// A failed re-resolution keeps the previous good Config so in-flight
// dispatch is never left without credentials by a half-written file.
type Handle struct {
	resolver *Resolver
	current  atomic.Pointer[Config]
	lastErr  atomic.Pointer[error]
	logger   *slog.Logger
}

// NewHandle creates a handle; call Reresolve to populate it.
func NewHandle(resolver *Resolver, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handle{resolver: resolver, logger: logger}
}

// Current returns the latest good Config, or the last resolution error when
// no Config has ever resolved.
func (h *Handle) Current() (*Config, error) {
	if cfg := h.current.Load(); cfg != nil {
		return cfg, nil
	}
	if errp := h.lastErr.Load(); errp != nil {
		return nil, *errp
	}
	return nil, ErrMissingAPIKey
}

// Reresolve runs the resolver and publishes the result.
func (h *Handle) Reresolve() error {
	cfg, err := h.resolver.Resolve()
	if err != nil {
		h.lastErr.Store(&err)
		h.logger.Warn("config resolution failed", "error", err, "kept_previous", h.current.Load() != nil)
		return err
	}

	h.lastErr.Store(nil)
	h.current.Store(cfg)
	h.logger.Info("config resolved", "config", cfg)
	return nil
}
