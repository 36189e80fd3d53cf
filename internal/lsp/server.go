// Package lsp is the language-server front-end. It translates editor
// notifications into activity notifications and feeds them, in arrival
// order, through the classifier and throttle engine into the dispatch queue.
package lsp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/espcaa/wakatime-ls/internal/activity"
	"github.com/espcaa/wakatime-ls/internal/config"
	"github.com/espcaa/wakatime-ls/internal/dispatch"
	"github.com/espcaa/wakatime-ls/internal/heartbeat"
	"github.com/espcaa/wakatime-ls/internal/metrics"
	"github.com/espcaa/wakatime-ls/internal/throttle"
)

const (
	DefaultName          = "wakatime-ls"
	DefaultEventBuffer   = 256
	DefaultShutdownGrace = 5 * time.Second
)

// Decider decides whether an event produces a heartbeat.
type Decider interface {
	Decide(ev activity.Event) throttle.Decision
}

// Dispatcher accepts heartbeats for submission.
type Dispatcher interface {
	Enqueue(hb heartbeat.Heartbeat) error
	Shutdown(ctx context.Context) error
}

// Reresolver re-reads configuration after the editor settings change.
type Reresolver interface {
	Reresolve() error
}

// Options tunes the front-end.
type Options struct {
	Name          string
	Version       string
	EventBuffer   int
	ShutdownGrace time.Duration
	Debug         bool
}

// Components are the collaborators a Server drives.
type Components struct {
	Editor   *config.EditorSource
	Configs  Reresolver
	Engine   Decider
	Queue    Dispatcher
	Notifier *Notifier
	Metrics  metrics.Collector
	Logger   *slog.Logger

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

// Server is the LSP front-end.
type Server struct {
	opts       Options
	editor     *config.EditorSource
	configs    Reresolver
	classifier *activity.Classifier
	engine     Decider
	queue      Dispatcher
	notifier   *Notifier
	metrics    metrics.Collector
	logger     *slog.Logger
	exit       func(int)
	now        func() time.Time

	languages *xsync.Map[string, string]

	mu         sync.RWMutex
	closed     bool
	events     chan activity.Notification
	loopDone   chan struct{}
	roots      []string
	startupErr error

	warnedConfig atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
	isShutdown   atomic.Bool

	handler protocol.Handler
}

// New creates a server and starts its event loop.
func New(opts Options, c Components) *Server {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop{}
	}
	if c.Notifier == nil {
		c.Notifier = NewNotifier(c.Logger, time.Minute)
	}
	if c.Editor == nil {
		c.Editor = config.NewEditorSource()
	}
	if c.Exit == nil {
		c.Exit = osExit
	}

	s := &Server{
		opts:      opts,
		editor:    c.Editor,
		configs:   c.Configs,
		engine:    c.Engine,
		queue:     c.Queue,
		notifier:  c.Notifier,
		metrics:   c.Metrics,
		logger:    c.Logger.With("component", "lsp"),
		exit:      c.Exit,
		now:       time.Now,
		languages: xsync.NewMap[string, string](),
		events:    make(chan activity.Notification, opts.EventBuffer),
		loopDone:  make(chan struct{}),
	}
	s.classifier = activity.NewClassifier(s.language)
	s.editor.SetPlugin(pluginString("", "", opts.Version))

	s.handler = protocol.Handler{
		Initialize:                         s.initialize,
		Initialized:                        s.initialized,
		Shutdown:                           s.shutdown,
		Exit:                               s.exitHandler,
		SetTrace:                           s.setTrace,
		TextDocumentDidOpen:                s.didOpen,
		TextDocumentDidChange:              s.didChange,
		TextDocumentDidSave:                s.didSave,
		TextDocumentDidClose:               s.didClose,
		WorkspaceDidChangeConfiguration:    s.didChangeConfiguration,
		WorkspaceDidChangeWorkspaceFolders: s.didChangeWorkspaceFolders,
	}

	go s.loop()
	return s
}

// Serve runs the server over stdin/stdout until the connection closes.
func (s *Server) Serve() error {
	return server.NewServer(&s.handler, s.opts.Name, s.opts.Debug).RunStdio()
}

// Shutdown stops accepting notifications, lets the event loop finish, and
// drains the dispatch queue within ctx. It is idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()

		select {
		case <-s.loopDone:
		case <-ctx.Done():
		}

		if s.queue != nil {
			s.shutdownErr = s.queue.Shutdown(ctx)
		}
		s.isShutdown.Store(true)
		s.logger.Info("shutdown complete", "error", s.shutdownErr)
	})
	return s.shutdownErr
}

// Roots returns the current workspace roots.
func (s *Server) Roots() []string {
	return s.classifier.Roots()
}

func (s *Server) loop() {
	defer close(s.loopDone)
	for n := range s.events {
		s.process(n)
	}
}

func (s *Server) process(n activity.Notification) {
	ev, ok := s.classifier.Classify(n, s.now())
	if !ok {
		return
	}
	if s.engine == nil {
		return
	}

	d := s.engine.Decide(ev)
	s.metrics.HeartbeatDecided(d.Send, d.Heartbeat.Forced)
	if !d.Send {
		s.logger.Debug("heartbeat throttled", "entity", ev.FilePath)
		return
	}

	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(d.Heartbeat); err != nil {
		if !errors.Is(err, dispatch.ErrQueueClosed) {
			s.logger.Warn("enqueue failed", "heartbeat", d.Heartbeat, "error", err)
		}
		return
	}
	s.logger.Debug("heartbeat queued", "heartbeat", d.Heartbeat)
}

// submit hands n to the event loop without blocking the handler.
func (s *Server) submit(n activity.Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	select {
	case s.events <- n:
	default:
		s.metrics.NotificationDropped()
		s.logger.Warn("event buffer full, notification dropped")
	}
}

func (s *Server) language(uri string) string {
	lang, _ := s.languages.Load(uri)
	return lang
}

func (s *Server) setRoots(roots []string) {
	s.mu.Lock()
	s.roots = append([]string(nil), roots...)
	s.mu.Unlock()
	s.classifier.SetRoots(roots)
}

func (s *Server) reresolve() error {
	if s.configs == nil {
		return nil
	}
	return s.configs.Reresolve()
}
