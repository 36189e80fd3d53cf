package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	configFileName = ".wakatime.cfg"
	envHome        = "WAKATIME_HOME"
)

// DefaultFilePath returns the wakatime config file location, honouring
// $WAKATIME_HOME before the user's home directory.
func DefaultFilePath() string {
	if home := os.Getenv(envHome); home != "" {
		return filepath.Join(home, configFileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configFileName)
}

// FileSource reads the [settings] section of the wakatime config file.
type FileSource struct {
	path string
}

// NewFileSource creates a source for the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name implements Source.
func (f *FileSource) Name() string { return "file" }

// Path returns the file location.
func (f *FileSource) Path() string { return f.path }

// Load implements Source. A missing file yields an empty record.
func (f *FileSource) Load() (Settings, error) {
	if f.path == "" {
		return Settings{}, nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfigFile, err)
	}

	values, err := parseConfigFile(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfigFile, f.path, err)
	}

	var s Settings
	if v := values["api_key"]; v != "" {
		s.APIKey = ptr(v)
	}
	if v := values["api_url"]; v != "" {
		s.APIURL = ptr(v)
	}
	if v := values["wakatime_cli"]; v != "" {
		s.UploaderPath = ptr(v)
	}
	return s, nil
}

type fileDocument struct {
	Settings map[string]any `toml:"settings"`
}

// parseConfigFile returns the key/value pairs of the [settings] section.
// Well-formed TOML is decoded directly; the INI dialect wakatime-cli writes
// (unquoted values, regex keys in other sections) goes through scanINI.
func parseConfigFile(data []byte) (map[string]string, error) {
	var doc fileDocument
	if err := toml.Unmarshal(data, &doc); err == nil {
		out := make(map[string]string, len(doc.Settings))
		for k, v := range doc.Settings {
			out[k] = strings.TrimSpace(fmt.Sprint(v))
		}
		return out, nil
	}
	return scanINI(data)
}

func scanINI(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	section := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("malformed section header %q", line)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		if section != "settings" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		out[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
