package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// EnvAPIKey is the fallback environment variable for the API key.
const EnvAPIKey = "WAKATIME_API_KEY"

// Source supplies one partial configuration record.
type Source interface {
	// Name identifies the source in errors and logs.
	Name() string

	// Load returns the source's current partial record.
	Load() (Settings, error)
}

// EditorSource holds settings pushed by the editor, either as
// initializationOptions or through workspace/didChangeConfiguration.
type EditorSource struct {
	mu       sync.RWMutex
	settings Settings
	plugin   string
}

// NewEditorSource creates an empty editor source.
func NewEditorSource() *EditorSource {
	return &EditorSource{}
}

// Name implements Source.
func (e *EditorSource) Name() string { return "editor" }

// Load implements Source.
func (e *EditorSource) Load() (Settings, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := e.settings
	if e.plugin != "" {
		out.Plugin = ptr(e.plugin)
	}
	return out, nil
}

// Set replaces the editor settings with the decoded form of raw.
// raw is the JSON-decoded value sent by the client; both
// {"settings": {...}} and the bare settings object are accepted.
func (e *EditorSource) Set(raw any) error {
	s, err := DecodeEditorSettings(raw)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	return nil
}

// SetPlugin records the plugin identifier derived from the client info.
// It survives later calls to Set.
func (e *EditorSource) SetPlugin(plugin string) {
	e.mu.Lock()
	e.plugin = plugin
	e.mu.Unlock()
}

// DecodeEditorSettings converts editor-supplied JSON into Settings.
func DecodeEditorSettings(raw any) (Settings, error) {
	var s Settings
	if raw == nil {
		return s, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return s, fmt.Errorf("editor settings: expected object, got %T", raw)
	}
	if nested, ok := obj["settings"].(map[string]any); ok {
		obj = nested
	}

	s.APIKey = lookupString(obj, "api-key", "api_key", "apiKey")
	s.APIURL = lookupString(obj, "api-url", "api_url", "apiUrl")
	s.UploaderPath = lookupString(obj, "wakatime-cli", "wakatime_cli", "cli-path")

	if extra, ok := obj["extra-args"].(map[string]any); ok {
		s.ExtraArgs = make(map[string]string, len(extra))
		for k, v := range extra {
			k = strings.TrimLeft(k, "-")
			if k == "" || v == nil {
				continue
			}
			s.ExtraArgs[k] = fmt.Sprint(v)
		}
	}
	return s, nil
}

func lookupString(obj map[string]any, keys ...string) *string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok {
			v = strings.TrimSpace(v)
			if v != "" {
				return ptr(v)
			}
		}
	}
	return nil
}

// EnvSource reads the fallback API key once, when it is built.
type EnvSource struct {
	key string
}

// NewEnvSource snapshots the fallback environment variable.
func NewEnvSource() *EnvSource {
	return &EnvSource{key: strings.TrimSpace(os.Getenv(EnvAPIKey))}
}

// Name implements Source.
func (e *EnvSource) Name() string { return "env" }

// Load implements Source.
func (e *EnvSource) Load() (Settings, error) {
	if e.key == "" {
		return Settings{}, nil
	}
	return Settings{APIKey: ptr(e.key)}, nil
}

// FlagSource holds settings given on the command line. Empty values are
// left unset so they do not shadow lower sources.
type FlagSource struct {
	settings Settings
}

// NewFlagSource creates a flag source for the uploader path.
func NewFlagSource(uploaderPath string) *FlagSource {
	var s Settings
	if p := strings.TrimSpace(uploaderPath); p != "" {
		s.UploaderPath = ptr(p)
	}
	return &FlagSource{settings: s}
}

// Name implements Source.
func (f *FlagSource) Name() string { return "flags" }

// Load implements Source.
func (f *FlagSource) Load() (Settings, error) {
	return f.settings, nil
}
