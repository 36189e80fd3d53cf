package config

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the resolver.
var (
	// ErrMissingAPIKey is returned when no source supplies an API key.
	ErrMissingAPIKey = errors.New("no wakatime api key configured")

	// ErrInvalidConfigFile is returned when the config file exists but cannot be parsed.
	ErrInvalidConfigFile = errors.New("invalid wakatime config file")

	// ErrInvalidOptions is returned when tuning options fail validation.
	ErrInvalidOptions = errors.New("invalid options")
)

// ConfigError describes a failed resolution. It is surfaced to the editor
// once and never stops the server.
type ConfigError struct {
	// Sources lists the sources consulted, highest precedence first.
	Sources []string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("resolve config from %v: %v", e.Sources, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
