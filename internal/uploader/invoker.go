// Package uploader runs wakatime-cli for a single heartbeat and classifies
// how it exited.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/espcaa/wakatime-ls/internal/config"
	"github.com/espcaa/wakatime-ls/internal/heartbeat"
)

// DefaultExecutable is looked up on PATH when no uploader path is configured.
const DefaultExecutable = "wakatime-cli"

// Kind classifies an invocation outcome.
type Kind int

const (
	// Success means the uploader exited 0.
	Success Kind = iota
	// Transient failures are worth retrying.
	Transient
	// Permanent failures are not.
	Permanent
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome describes one invocation.
type Outcome struct {
	Kind     Kind
	ExitCode int
	Stderr   string
	Err      error
	Duration time.Duration
}

// Options configures an Invoker.
type Options struct {
	Timeout            time.Duration
	SpawnCooldown      time.Duration
	RetryableExitCodes []int
	StderrLimit        int
}

// Invoker spawns wakatime-cli.
//
// Thread Safety: Invoke may be called concurrently.
type Invoker struct {
	opts     Options
	now      func() time.Time
	lookPath func(string) (string, error)
	environ  func() []string

	mu            sync.Mutex
	cooldownUntil time.Time
	failedPath    string
}

// NewInvoker creates an invoker.
func NewInvoker(opts Options) *Invoker {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.StderrLimit <= 0 {
		opts.StderrLimit = 4096
	}
	return &Invoker{
		opts:     opts,
		now:      time.Now,
		lookPath: exec.LookPath,
		environ:  os.Environ,
	}
}

// Executable returns the uploader path for cfg.
func (i *Invoker) Executable(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.UploaderPath != "" {
		return cfg.UploaderPath, nil
	}
	path, err := i.lookPath(DefaultExecutable)
	if err != nil {
		return "", ErrNoExecutable
	}
	return path, nil
}

// Invoke runs the uploader for hb with cfg and waits for it to exit.
// Cancelling ctx kills the process.
func (i *Invoker) Invoke(ctx context.Context, hb heartbeat.Heartbeat, cfg *config.Config) Outcome {
	if cfg == nil {
		return Outcome{Kind: Permanent, ExitCode: -1, Err: ErrNoConfig}
	}
	if path, ok := i.coolingDown(); ok {
		return Outcome{Kind: Transient, ExitCode: -1, Err: &SpawnError{Path: path, Err: ErrSpawnCooldown}}
	}

	path, err := i.Executable(cfg)
	if err != nil {
		return i.spawnFailed(path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	stderr := &limitedBuffer{limit: i.opts.StderrLimit}
	cmd := exec.CommandContext(ctx, path, BuildArgs(hb, cfg)...)
	cmd.Env = append(i.environ(), EnvAPIKey+"="+cfg.APIKey)
	cmd.Stdout = nil
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	start := i.now()
	if err := cmd.Start(); err != nil {
		return i.spawnFailed(path, err)
	}
	err = cmd.Wait()
	out := Outcome{Duration: i.now().Sub(start), Stderr: stderr.String()}

	if err == nil {
		out.Kind = Success
		return out
	}

	out.Err = err
	out.ExitCode = -1
	if ctx.Err() != nil {
		// Timed out or cancelled; the process was killed.
		out.Kind = Transient
		out.Err = ctx.Err()
		return out
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		if slices.Contains(i.opts.RetryableExitCodes, out.ExitCode) {
			out.Kind = Transient
		} else {
			out.Kind = Permanent
		}
		return out
	}

	out.Kind = Transient
	return out
}

func (i *Invoker) spawnFailed(path string, err error) Outcome {
	if path == "" {
		path = DefaultExecutable
	}
	i.mu.Lock()
	i.cooldownUntil = i.now().Add(i.opts.SpawnCooldown)
	i.failedPath = path
	i.mu.Unlock()

	return Outcome{Kind: Transient, ExitCode: -1, Err: &SpawnError{Path: path, Err: err}}
}

// coolingDown reports whether spawning is suspended, and the path that
// failed to start.
func (i *Invoker) coolingDown() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failedPath, i.now().Before(i.cooldownUntil)
}

// limitedBuffer keeps the first limit bytes written to it and discards the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "...(truncated)"
	}
	return b.buf.String()
}
