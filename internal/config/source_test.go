package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEditorSettings(t *testing.T) {
	t.Run("nested settings object", func(t *testing.T) {
		s, err := DecodeEditorSettings(map[string]any{
			"settings": map[string]any{
				"api-key":      " key ",
				"api-url":      "https://hackatime.example/api/hackatime/v1",
				"wakatime-cli": "/usr/bin/wakatime-cli",
				"extra-args":   map[string]any{"--hostname": "box", "timeout": 30.0, "": "x"},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, s.APIKey)
		assert.Equal(t, "key", *s.APIKey)
		assert.Equal(t, "https://hackatime.example/api/hackatime/v1", *s.APIURL)
		assert.Equal(t, "/usr/bin/wakatime-cli", *s.UploaderPath)
		assert.Equal(t, map[string]string{"hostname": "box", "timeout": "30"}, s.ExtraArgs)
	})

	t.Run("bare object with underscore keys", func(t *testing.T) {
		s, err := DecodeEditorSettings(map[string]any{"api_key": "k"})
		require.NoError(t, err)
		assert.Equal(t, "k", *s.APIKey)
		assert.Nil(t, s.APIURL)
	})

	t.Run("nil", func(t *testing.T) {
		s, err := DecodeEditorSettings(nil)
		require.NoError(t, err)
		assert.Nil(t, s.APIKey)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := DecodeEditorSettings("nope")
		require.Error(t, err)
	})

	t.Run("empty key is unset", func(t *testing.T) {
		s, err := DecodeEditorSettings(map[string]any{"api-key": "  "})
		require.NoError(t, err)
		assert.Nil(t, s.APIKey)
	})
}

func TestEditorSource_PluginSurvivesSet(t *testing.T) {
	e := NewEditorSource()
	e.SetPlugin("Zed/0.150 wakatime-ls/1.0")
	require.NoError(t, e.Set(map[string]any{"api-key": "k"}))

	s, err := e.Load()
	require.NoError(t, err)
	assert.Equal(t, "Zed/0.150 wakatime-ls/1.0", *s.Plugin)
	assert.Equal(t, "k", *s.APIKey)
}

func TestEnvSource_ReadOnce(t *testing.T) {
	t.Setenv(EnvAPIKey, "first")
	src := NewEnvSource()
	t.Setenv(EnvAPIKey, "second")

	s, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, "first", *s.APIKey)
}

func TestFlagSource(t *testing.T) {
	s, err := NewFlagSource("  ").Load()
	require.NoError(t, err)
	assert.Nil(t, s.UploaderPath)

	s, err = NewFlagSource("/opt/wakatime-cli").Load()
	require.NoError(t, err)
	require.NotNil(t, s.UploaderPath)
	assert.Equal(t, "/opt/wakatime-cli", *s.UploaderPath)
}

func TestResolver_EditorPathBeatsFlag(t *testing.T) {
	editor := NewEditorSource()
	require.NoError(t, editor.Set(map[string]any{"api-key": "k", "wakatime-cli": "/editor/cli"}))

	cfg, err := NewResolver(nil, editor, NewFlagSource("/flag/cli")).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/editor/cli", cfg.UploaderPath)

	cfg, err = NewResolver(nil, NewEditorSource(), NewFlagSource("/flag/cli"), staticSource{name: "file", s: Settings{APIKey: ptr("k")}}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/flag/cli", cfg.UploaderPath)
}
