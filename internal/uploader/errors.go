package uploader

import (
	"errors"
	"fmt"
)

var (
	// ErrNoExecutable is returned when no uploader path is configured and
	// wakatime-cli is not on PATH.
	ErrNoExecutable = errors.New("wakatime-cli executable not found")

	// ErrSpawnCooldown is returned while spawning is suspended after a
	// spawn failure.
	ErrSpawnCooldown = errors.New("uploader spawn cooling down")

	// ErrNoConfig is returned when the invoker is called without a config.
	ErrNoConfig = errors.New("no resolved config")
)

// SpawnError reports that the uploader process could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
