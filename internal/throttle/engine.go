// Package throttle decides which activity events become heartbeats.
//
// The engine is a per-file rate limiter with forced-bypass conditions: a
// save, a project switch, or a long idle gap always produces a heartbeat,
// while ordinary edits are limited to one per MinInterval. Suppressed events
// never move the interval clock.
package throttle

import (
	"container/list"
	"sync"
	"time"

	"github.com/espcaa/wakatime-ls/internal/activity"
	"github.com/espcaa/wakatime-ls/internal/heartbeat"
)

// Defaults used when Options fields are zero.
const (
	DefaultMinInterval        = 2 * time.Minute
	DefaultIdleForcedInterval = 15 * time.Minute
	DefaultMaxTrackedFiles    = 500
)

// Options configures an Engine.
type Options struct {
	MinInterval        time.Duration
	IdleForcedInterval time.Duration
	MaxTrackedFiles    int
}

// State is the throttle memory kept for one file.
type State struct {
	// LastSentAt is the time of the last heartbeat of any kind.
	LastSentAt time.Time

	// LastUnforcedAt is the time of the last non-forced heartbeat; the
	// MinInterval is measured from it.
	LastUnforcedAt time.Time

	// LastProject is the project of the last heartbeat.
	LastProject string

	// UpdatedAt is the time of the last decision, used for eviction.
	UpdatedAt time.Time
}

// Decision is the outcome of Decide. Heartbeat is set only when Send is true.
type Decision struct {
	Send      bool
	Heartbeat heartbeat.Heartbeat
}

// Engine holds per-file throttle state, bounded by MaxTrackedFiles.
//
// Thread Safety: Decide serializes on a single mutex and never blocks on I/O.
type Engine struct {
	opts Options

	mu        sync.Mutex
	items     map[string]*list.Element
	order     *list.List // front = most recently updated
	evictions int64
}

type entry struct {
	path  string
	state State
}

// New creates an engine. Zero option fields take the package defaults.
func New(opts Options) *Engine {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.IdleForcedInterval <= 0 {
		opts.IdleForcedInterval = DefaultIdleForcedInterval
	}
	if opts.MaxTrackedFiles <= 0 {
		opts.MaxTrackedFiles = DefaultMaxTrackedFiles
	}
	return &Engine{
		opts:  opts,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Decide returns whether ev produces a heartbeat now. The event's Time is
// used as the current time.
func (e *Engine) Decide(ev activity.Event) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := ev.Time
	elem, exists := e.items[ev.FilePath]
	if !exists {
		elem = e.insert(ev.FilePath)
	} else {
		e.order.MoveToFront(elem)
	}
	ent := elem.Value.(*entry)
	st := &ent.state
	st.UpdatedAt = now

	var forced, send bool
	if !exists {
		// First event for the file, or first after eviction.
		forced = ev.IsSave
		send = true
	} else {
		forced = ev.IsSave ||
			st.LastProject != ev.Project ||
			now.Sub(st.LastSentAt) > e.opts.IdleForcedInterval
		send = forced || now.Sub(st.LastUnforcedAt) >= e.opts.MinInterval
	}

	if !send {
		return Decision{}
	}

	st.LastSentAt = now
	st.LastProject = ev.Project
	// The first send starts the interval clock even when it was forced.
	if !forced || !exists {
		st.LastUnforcedAt = now
	}

	return Decision{
		Send: true,
		Heartbeat: heartbeat.Heartbeat{
			Entity:        ev.FilePath,
			Time:          ev.Time,
			Language:      ev.Language,
			Project:       ev.Project,
			ProjectFolder: ev.ProjectFolder,
			LineNumber:    ev.LineNumber,
			CursorPos:     ev.CursorPos,
			LinesInFile:   ev.LinesInFile,
			IsWrite:       ev.IsWrite,
			Forced:        forced,
		},
	}
}

func (e *Engine) insert(path string) *list.Element {
	for e.order.Len() >= e.opts.MaxTrackedFiles {
		oldest := e.order.Back()
		if oldest == nil {
			break
		}
		e.order.Remove(oldest)
		delete(e.items, oldest.Value.(*entry).path)
		e.evictions++
	}
	elem := e.order.PushFront(&entry{path: path})
	e.items[path] = elem
	return elem
}

// State returns a copy of the throttle state for path.
func (e *Engine) State(path string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	elem, ok := e.items[path]
	if !ok {
		return State{}, false
	}
	return elem.Value.(*entry).state, true
}

// Len returns the number of tracked files.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}

// Evictions returns the number of states evicted so far.
func (e *Engine) Evictions() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evictions
}
