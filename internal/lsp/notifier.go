package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/time/rate"

	"github.com/espcaa/wakatime-ls/internal/dispatch"
)

// Notifier surfaces diagnostics to the editor as window/logMessage and
// window/showMessage notifications. Diagnostics of the same kind are limited
// to one per interval so a broken uploader cannot flood the editor.
type Notifier struct {
	logger   *slog.Logger
	interval time.Duration
	notify   atomic.Pointer[glsp.NotifyFunc]
	limits   *xsync.Map[string, *rate.Sometimes]
}

var _ dispatch.Reporter = (*Notifier)(nil)

// NewNotifier creates a notifier. Until Attach is called diagnostics are
// only logged.
func NewNotifier(logger *slog.Logger, interval time.Duration) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		logger:   logger,
		interval: interval,
		limits:   xsync.NewMap[string, *rate.Sometimes](),
	}
}

// Attach sets the connection used to notify the editor.
func (n *Notifier) Attach(notify glsp.NotifyFunc) {
	if notify == nil {
		return
	}
	n.notify.Store(&notify)
}

// Report implements dispatch.Reporter.
func (n *Notifier) Report(d dispatch.Diagnostic) {
	msg := d.Message
	if d.Err != nil {
		msg = fmt.Sprintf("%s: %v", d.Message, d.Err)
	}

	key := d.Key
	if key == "" {
		key = d.Message
	}
	limiter, _ := n.limits.LoadOrCompute(key, func() (*rate.Sometimes, bool) {
		return &rate.Sometimes{Interval: n.interval}, false
	})

	limiter.Do(func() {
		n.logger.Log(context.Background(), levelFor(d.Severity), "diagnostic", "message", d.Message, "error", d.Err)
		n.send(protocol.ServerWindowLogMessage, protocol.LogMessageParams{
			Type:    messageTypeFor(d.Severity),
			Message: "wakatime: " + msg,
		})
	})
}

// Show displays a message prominently, bypassing the rate limit. It is used
// for one-off problems such as missing credentials at startup.
func (n *Notifier) Show(severity dispatch.Severity, message string) {
	n.logger.Log(context.Background(), levelFor(severity), "show message", "message", message)
	n.send(protocol.ServerWindowShowMessage, protocol.ShowMessageParams{
		Type:    messageTypeFor(severity),
		Message: "wakatime: " + message,
	})
}

// Log writes a message to the editor's log without rate limiting.
func (n *Notifier) Log(message string) {
	n.send(protocol.ServerWindowLogMessage, protocol.LogMessageParams{
		Type:    protocol.MessageTypeLog,
		Message: message,
	})
}

func (n *Notifier) send(method string, params any) {
	if notify := n.notify.Load(); notify != nil {
		(*notify)(method, params)
	}
}

func messageTypeFor(s dispatch.Severity) protocol.MessageType {
	switch s {
	case dispatch.SeverityError:
		return protocol.MessageTypeError
	case dispatch.SeverityWarning:
		return protocol.MessageTypeWarning
	default:
		return protocol.MessageTypeInfo
	}
}

func levelFor(s dispatch.Severity) slog.Level {
	switch s {
	case dispatch.SeverityError:
		return slog.LevelError
	case dispatch.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
