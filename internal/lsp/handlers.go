package lsp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/espcaa/wakatime-ls/internal/activity"
	"github.com/espcaa/wakatime-ls/internal/config"
	"github.com/espcaa/wakatime-ls/internal/dispatch"
)

var osExit = os.Exit

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.notifier.Attach(ctx.Notify)

	var client, clientVersion string
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
		if params.ClientInfo.Version != nil {
			clientVersion = *params.ClientInfo.Version
		}
	}
	plugin := pluginString(client, clientVersion, s.opts.Version)
	s.editor.SetPlugin(plugin)

	s.setRoots(initialRoots(params))

	if params.InitializationOptions != nil {
		if err := s.editor.Set(params.InitializationOptions); err != nil {
			s.logger.Warn("ignoring initialization options", "error", err)
		}
	}

	err := s.reresolve()
	s.mu.Lock()
	s.startupErr = err
	s.mu.Unlock()

	s.logger.Info("initialize",
		"client", client,
		"plugin", plugin,
		"roots", s.classifier.Roots(),
		"config_error", err,
	)

	change := protocol.TextDocumentSyncKindIncremental
	openClose := true
	includeText := true
	version := s.opts.Version

	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: &openClose,
				Change:    &change,
				Save:      protocol.SaveOptions{IncludeText: &includeText},
			},
		},
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    s.opts.Name,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	s.mu.RLock()
	err := s.startupErr
	s.mu.RUnlock()

	s.surfaceConfigError(err)
	return nil
}

// surfaceConfigError shows a configuration problem once per process.
func (s *Server) surfaceConfigError(err error) {
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		return
	}
	if !s.warnedConfig.CompareAndSwap(false, true) {
		return
	}
	msg := "no API key configured; set api-key in the editor settings, api_key in ~/.wakatime.cfg, or WAKATIME_API_KEY"
	if !errors.Is(err, config.ErrMissingAPIKey) {
		msg = err.Error()
	}
	s.notifier.Show(dispatch.SeverityWarning, msg)
}

func (s *Server) shutdown(ctx *glsp.Context) error {
	c, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
	defer cancel()
	if err := s.Shutdown(c); err != nil {
		s.logger.Warn("shutdown did not drain cleanly", "error", err)
	}
	return nil
}

func (s *Server) exitHandler(ctx *glsp.Context) error {
	if s.isShutdown.Load() {
		s.exit(0)
		return nil
	}

	c, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
	defer cancel()
	_ = s.Shutdown(c)
	s.exit(1)
	return nil
}

func (s *Server) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

func (s *Server) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	if params.TextDocument.LanguageID != "" {
		s.languages.Store(uri, params.TextDocument.LanguageID)
	}
	s.submit(activity.Open{URI: uri, LanguageID: params.TextDocument.LanguageID})
	return nil
}

func (s *Server) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.submit(activity.Change{
		URI:     params.TextDocument.URI,
		Changes: contentChanges(params.ContentChanges),
	})
	return nil
}

func (s *Server) didSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.submit(activity.Save{URI: params.TextDocument.URI, Text: params.Text})
	return nil
}

func (s *Server) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.languages.Delete(params.TextDocument.URI)
	return nil
}

func (s *Server) didChangeConfiguration(ctx *glsp.Context, params *protocol.DidChangeConfigurationParams) error {
	if err := s.editor.Set(params.Settings); err != nil {
		s.logger.Warn("ignoring editor settings", "error", err)
		return nil
	}
	if err := s.reresolve(); err != nil {
		s.notifier.Report(dispatch.Diagnostic{
			Key:      "config",
			Severity: dispatch.SeverityWarning,
			Message:  "configuration update rejected, keeping previous settings",
			Err:      err,
		})
	}
	return nil
}

func (s *Server) didChangeWorkspaceFolders(ctx *glsp.Context, params *protocol.DidChangeWorkspaceFoldersParams) error {
	s.mu.RLock()
	roots := append([]string(nil), s.roots...)
	s.mu.RUnlock()

	for _, f := range params.Event.Removed {
		if p, ok := activity.PathFromURI(f.URI); ok {
			roots = slices.DeleteFunc(roots, func(r string) bool { return r == p })
		}
	}
	for _, f := range params.Event.Added {
		if p, ok := activity.PathFromURI(f.URI); ok && !slices.Contains(roots, p) {
			roots = append(roots, p)
		}
	}

	s.setRoots(roots)
	s.logger.Info("workspace folders changed", "roots", s.classifier.Roots())
	return nil
}

// initialRoots prefers workspaceFolders, then rootUri, then rootPath.
func initialRoots(params *protocol.InitializeParams) []string {
	var roots []string
	for _, f := range params.WorkspaceFolders {
		if p, ok := activity.PathFromURI(f.URI); ok {
			roots = append(roots, p)
		}
	}
	if len(roots) > 0 {
		return roots
	}
	if params.RootURI != nil {
		if p, ok := activity.PathFromURI(*params.RootURI); ok {
			return []string{p}
		}
	}
	if params.RootPath != nil && *params.RootPath != "" {
		return []string{filepath.Clean(*params.RootPath)}
	}
	return nil
}

func contentChanges(raw []any) []activity.ContentChange {
	changes := make([]activity.ContentChange, 0, len(raw))
	for _, c := range raw {
		switch c := c.(type) {
		case protocol.TextDocumentContentChangeEvent:
			change := activity.ContentChange{Text: c.Text}
			if c.Range != nil {
				change.Range = &activity.Range{
					StartLine:      int(c.Range.Start.Line),
					StartCharacter: int(c.Range.Start.Character),
					EndLine:        int(c.Range.End.Line),
					EndCharacter:   int(c.Range.End.Character),
				}
			}
			changes = append(changes, change)
		case protocol.TextDocumentContentChangeEventWhole:
			changes = append(changes, activity.ContentChange{Text: c.Text})
		}
	}
	return changes
}

// pluginString identifies the editor and this server to wakatime, for
// example "Zed/0.160.7 wakatime-ls/1.0.0".
func pluginString(client, clientVersion, version string) string {
	self := DefaultName + "/" + version
	client = strings.ReplaceAll(strings.TrimSpace(client), " ", "-")
	if client == "" {
		return self
	}
	if clientVersion == "" {
		return client + " " + self
	}
	return client + "/" + clientVersion + " " + self
}
