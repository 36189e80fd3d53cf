package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options tunes the throttle engine, the dispatch queue and the uploader.
//
// All duration fields accept Go duration strings like "90s" or "2m".
type Options struct {
	// MinInterval is the minimum time between two non-forced heartbeats
	// for the same file.
	//
	// Default: 2 minutes
	MinInterval time.Duration `yaml:"minInterval"`

	// IdleForcedInterval marks a heartbeat as forced when the file has been
	// quiet for longer than this.
	//
	// Default: 15 minutes
	IdleForcedInterval time.Duration `yaml:"idleForcedInterval"`

	// MaxTrackedFiles caps the number of files with throttle state.
	// The least recently updated file is evicted beyond this.
	//
	// Default: 500
	MaxTrackedFiles int `yaml:"maxTrackedFiles"`

	// Workers is the maximum number of concurrent uploader processes.
	//
	// Default: 2
	Workers int `yaml:"workers"`

	// QueueCapacity bounds the number of heartbeats waiting for a worker.
	//
	// Default: 100
	QueueCapacity int `yaml:"queueCapacity"`

	// MaxAttempts is the total number of invocations per heartbeat,
	// including the first.
	//
	// Default: 3
	MaxAttempts int `yaml:"maxAttempts"`

	// RetryInitialDelay is the delay before the first retry.
	// Later retries double it, up to RetryMaxDelay.
	//
	// Default: 1 second
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`

	// RetryMaxDelay caps the retry delay.
	//
	// Default: 30 seconds
	RetryMaxDelay time.Duration `yaml:"retryMaxDelay"`

	// UploaderTimeout bounds a single uploader invocation.
	//
	// Default: 10 seconds
	UploaderTimeout time.Duration `yaml:"uploaderTimeout"`

	// SpawnCooldown is how long spawning is suspended after the uploader
	// executable failed to start.
	//
	// Default: 1 minute
	SpawnCooldown time.Duration `yaml:"spawnCooldown"`

	// ShutdownGrace is how long running uploads may continue after shutdown.
	//
	// Default: 5 seconds
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`

	// RetryableExitCodes are uploader exit codes treated as transient.
	//
	// Default: [102, 112] (API unreachable, rate limited)
	RetryableExitCodes []int `yaml:"retryableExitCodes"`

	// StderrLimit is the number of stderr bytes kept for diagnostics.
	//
	// Default: 4096
	StderrLimit int `yaml:"stderrLimit"`
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		MinInterval:        2 * time.Minute,
		IdleForcedInterval: 15 * time.Minute,
		MaxTrackedFiles:    500,
		Workers:            2,
		QueueCapacity:      100,
		MaxAttempts:        3,
		RetryInitialDelay:  time.Second,
		RetryMaxDelay:      30 * time.Second,
		UploaderTimeout:    10 * time.Second,
		SpawnCooldown:      time.Minute,
		ShutdownGrace:      5 * time.Second,
		RetryableExitCodes: []int{102, 112},
		StderrLimit:        4096,
	}
}

// LoadOptions reads YAML options from path on top of DefaultOptions.
// An empty path or a missing file yields the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("read options: %w", err)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate checks that every option is usable.
func (o Options) Validate() error {
	switch {
	case o.MinInterval <= 0:
		return fmt.Errorf("%w: minInterval must be positive", ErrInvalidOptions)
	case o.IdleForcedInterval <= 0:
		return fmt.Errorf("%w: idleForcedInterval must be positive", ErrInvalidOptions)
	case o.MaxTrackedFiles <= 0:
		return fmt.Errorf("%w: maxTrackedFiles must be positive", ErrInvalidOptions)
	case o.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidOptions)
	case o.QueueCapacity <= 0:
		return fmt.Errorf("%w: queueCapacity must be positive", ErrInvalidOptions)
	case o.MaxAttempts <= 0:
		return fmt.Errorf("%w: maxAttempts must be positive", ErrInvalidOptions)
	case o.RetryInitialDelay <= 0 || o.RetryMaxDelay < o.RetryInitialDelay:
		return fmt.Errorf("%w: retry delays must be positive and ordered", ErrInvalidOptions)
	case o.UploaderTimeout <= 0:
		return fmt.Errorf("%w: uploaderTimeout must be positive", ErrInvalidOptions)
	case o.SpawnCooldown < 0 || o.ShutdownGrace < 0:
		return fmt.Errorf("%w: cooldown and grace must not be negative", ErrInvalidOptions)
	case o.StderrLimit <= 0:
		return fmt.Errorf("%w: stderrLimit must be positive", ErrInvalidOptions)
	}
	return nil
}
