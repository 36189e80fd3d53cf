package config

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// Settings is a partial configuration record supplied by a single source.
// A nil field means the source has no opinion on that key.
type Settings struct {
	APIKey       *string
	APIURL       *string
	UploaderPath *string
	Plugin       *string
	ExtraArgs    map[string]string
}

// overlay fills every key of s that is still unset from lower.
func (s Settings) overlay(lower Settings) Settings {
	out := s
	if out.APIKey == nil {
		out.APIKey = lower.APIKey
	}
	if out.APIURL == nil {
		out.APIURL = lower.APIURL
	}
	if out.UploaderPath == nil {
		out.UploaderPath = lower.UploaderPath
	}
	if out.Plugin == nil {
		out.Plugin = lower.Plugin
	}
	if len(lower.ExtraArgs) > 0 {
		merged := make(map[string]string, len(s.ExtraArgs)+len(lower.ExtraArgs))
		maps.Copy(merged, lower.ExtraArgs)
		maps.Copy(merged, s.ExtraArgs)
		out.ExtraArgs = merged
	}
	return out
}

// Config is the resolved, immutable configuration used to invoke the uploader.
type Config struct {
	APIKey       string
	APIURL       string
	UploaderPath string
	Plugin       string
	ExtraArgs    map[string]string
}

// String implements fmt.Stringer without exposing the API key.
func (c *Config) String() string {
	return fmt.Sprintf("Config{APIKey:%s APIURL:%q UploaderPath:%q Plugin:%q ExtraArgs:%d}",
		RedactKey(c.APIKey), c.APIURL, c.UploaderPath, c.Plugin, len(c.ExtraArgs))
}

// LogValue implements slog.LogValuer without exposing the API key.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("api_key", RedactKey(c.APIKey)),
		slog.String("api_url", c.APIURL),
		slog.String("uploader", c.UploaderPath),
		slog.String("plugin", c.Plugin),
		slog.Int("extra_args", len(c.ExtraArgs)),
	)
}

// RedactKey masks all but the last four characters of key.
func RedactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func ptr(s string) *string {
	return &s
}
