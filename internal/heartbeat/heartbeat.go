// Package heartbeat defines the activity record handed from the throttle
// engine to the dispatch queue and, finally, to wakatime-cli.
package heartbeat

import (
	"log/slog"
	"time"
)

// Heartbeat is a single coding-activity record ready for submission.
//
// A Heartbeat is immutable once created; it is passed by value between
// components so no two owners ever share one.
type Heartbeat struct {
	Entity        string    `json:"entity"`
	Time          time.Time `json:"time"`
	Language      string    `json:"language,omitempty"`
	Project       string    `json:"alternate_project,omitempty"`
	ProjectFolder string    `json:"project_folder,omitempty"`
	LineNumber    int       `json:"lineno,omitempty"`
	CursorPos     int       `json:"cursorpos,omitempty"`
	LinesInFile   int       `json:"lines_in_file,omitempty"`
	IsWrite       bool      `json:"is_write"`
	Forced        bool      `json:"forced"`
}

// UnixSeconds returns the heartbeat time as fractional Unix seconds, the
// format wakatime-cli expects for --time.
func (h Heartbeat) UnixSeconds() float64 {
	return float64(h.Time.UnixMilli()) / 1000.0
}

// LogValue implements slog.LogValuer.
func (h Heartbeat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("entity", h.Entity),
		slog.String("project", h.Project),
		slog.String("language", h.Language),
		slog.Bool("write", h.IsWrite),
		slog.Bool("forced", h.Forced),
	)
}
