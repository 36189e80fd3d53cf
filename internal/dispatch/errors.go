package dispatch

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("dispatch queue closed")

	// ErrTransient marks a failed attempt that may succeed when retried.
	ErrTransient = errors.New("transient upload failure")

	// ErrPermanent marks a failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent upload failure")
)
