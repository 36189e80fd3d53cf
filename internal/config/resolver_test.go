package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ".wakatime.cfg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type staticSource struct {
	name string
	s    Settings
	err  error
}

func (s staticSource) Name() string            { return s.name }
func (s staticSource) Load() (Settings, error) { return s.s, s.err }

func TestResolver_Precedence(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	path := writeFile(t, t.TempDir(), "[settings]\napi_key = file-key\napi_url = https://file.example/api\nwakatime_cli = /opt/file/wakatime-cli\n")

	editor := NewEditorSource()
	require.NoError(t, editor.Set(map[string]any{
		"settings": map[string]any{"api-key": "editor-key"},
	}))

	r := NewResolver(nil, editor, NewFileSource(path), NewEnvSource())
	cfg, err := r.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "editor-key", cfg.APIKey)
	assert.Equal(t, "https://file.example/api", cfg.APIURL)
	assert.Equal(t, "/opt/file/wakatime-cli", cfg.UploaderPath)
}

func TestResolver_FallsThroughToEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")

	r := NewResolver(nil, NewEditorSource(), NewFileSource(filepath.Join(t.TempDir(), "missing.cfg")), NewEnvSource())
	cfg, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.NotNil(t, cfg.ExtraArgs)
}

func TestResolver_MissingKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	r := NewResolver(nil, NewEditorSource(), NewEnvSource())
	_, err := r.Resolve()
	require.ErrorIs(t, err, ErrMissingAPIKey)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"editor", "env"}, cfgErr.Sources)
}

func TestResolver_BrokenSourceSkipped(t *testing.T) {
	broken := staticSource{name: "broken", err: errors.New("boom")}
	good := staticSource{name: "good", s: Settings{APIKey: ptr("k")}}

	cfg, err := NewResolver(nil, broken, good).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.APIKey)

	_, err = NewResolver(nil, broken).Resolve()
	require.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "boom")
}

func TestResolver_ExtraArgsMergePerKey(t *testing.T) {
	high := staticSource{name: "high", s: Settings{APIKey: ptr("k"), ExtraArgs: map[string]string{"hostname": "laptop"}}}
	low := staticSource{name: "low", s: Settings{ExtraArgs: map[string]string{"hostname": "server", "timeout": "30"}}}

	cfg, err := NewResolver(nil, high, low).Resolve()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hostname": "laptop", "timeout": "30"}, cfg.ExtraArgs)
}

func TestHandle_KeepsPreviousOnFailure(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	editor := NewEditorSource()
	h := NewHandle(NewResolver(nil, editor), nil)

	_, err := h.Current()
	require.ErrorIs(t, err, ErrMissingAPIKey)

	require.NoError(t, editor.Set(map[string]any{"api-key": "first"}))
	require.NoError(t, h.Reresolve())

	cfg, err := h.Current()
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.APIKey)

	require.NoError(t, editor.Set(map[string]any{}))
	require.ErrorIs(t, h.Reresolve(), ErrMissingAPIKey)

	cfg, err = h.Current()
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.APIKey)

	require.NoError(t, editor.Set(map[string]any{"api-key": "second"}))
	require.NoError(t, h.Reresolve())
	cfg, _ = h.Current()
	assert.Equal(t, "second", cfg.APIKey)
}

func TestConfig_RedactsKey(t *testing.T) {
	cfg := &Config{APIKey: "waka_0123456789abcdef"}

	assert.NotContains(t, cfg.String(), "0123456789")
	assert.Contains(t, cfg.String(), "cdef")
	assert.NotContains(t, cfg.LogValue().String(), "0123456789")
	assert.Equal(t, "***", RedactKey("abc"))
	assert.Empty(t, RedactKey(""))
}
