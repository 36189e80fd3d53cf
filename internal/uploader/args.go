package uploader

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/espcaa/wakatime-ls/internal/config"
	"github.com/espcaa/wakatime-ls/internal/heartbeat"
)

// DefaultPlugin identifies the server when the editor sent no client info.
const DefaultPlugin = "wakatime-ls"

// EnvAPIKey carries the API key to the child process.
const EnvAPIKey = "WAKATIME_API_KEY"

// BuildArgs returns the wakatime-cli arguments for one heartbeat. The output
// depends only on its inputs. The API key is never part of it.
func BuildArgs(hb heartbeat.Heartbeat, cfg *config.Config) []string {
	args := []string{
		"--entity", hb.Entity,
		"--time", fmt.Sprintf("%.3f", hb.UnixSeconds()),
	}

	plugin := DefaultPlugin
	if cfg != nil && cfg.Plugin != "" {
		plugin = cfg.Plugin
	}
	args = append(args, "--plugin", plugin)

	if hb.LineNumber > 0 {
		args = append(args, "--lineno", strconv.Itoa(hb.LineNumber))
	}
	if hb.CursorPos > 0 {
		args = append(args, "--cursorpos", strconv.Itoa(hb.CursorPos))
	}
	if hb.LinesInFile > 0 {
		args = append(args, "--lines-in-file", strconv.Itoa(hb.LinesInFile))
	}

	args = append(args, "--category", "coding")

	if hb.Language != "" {
		args = append(args, "--language", hb.Language)
	} else {
		args = append(args, "--guess-language")
	}

	if hb.Project != "" {
		args = append(args, "--alternate-project", hb.Project)
	}
	if hb.ProjectFolder != "" {
		args = append(args, "--project-folder", hb.ProjectFolder)
	}

	if hb.IsWrite {
		args = append(args, "--write")
	}

	if cfg == nil {
		return args
	}
	if cfg.APIURL != "" {
		args = append(args, "--api-url", cfg.APIURL)
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.ExtraArgs)) {
		args = append(args, "--"+k)
		if v := cfg.ExtraArgs[k]; v != "" {
			args = append(args, v)
		}
	}
	return args
}
