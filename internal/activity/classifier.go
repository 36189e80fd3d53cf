package activity

import (
	"net/url"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event is a coding-activity event derived from one notification.
type Event struct {
	Time          time.Time
	FilePath      string
	Project       string
	ProjectFolder string
	Language      string
	LineNumber    int
	CursorPos     int
	LinesInFile   int
	IsWrite       bool
	IsSave        bool
}

// LanguageFunc returns the language id last reported for a document URI.
type LanguageFunc func(uri string) string

// Classifier maps notifications to events. Its only state is the list of
// workspace roots used to derive the project of a file.
type Classifier struct {
	mu       sync.RWMutex
	roots    []string
	language LanguageFunc
}

// NewClassifier creates a classifier. language may be nil.
func NewClassifier(language LanguageFunc) *Classifier {
	if language == nil {
		language = func(string) string { return "" }
	}
	return &Classifier{language: language}
}

// SetRoots replaces the known workspace roots.
func (c *Classifier) SetRoots(roots []string) {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(r))
	}
	// Longest first so the first prefix match is the deepest root.
	sort.SliceStable(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })

	c.mu.Lock()
	c.roots = cleaned
	c.mu.Unlock()
}

// Roots returns the known workspace roots, longest first.
func (c *Classifier) Roots() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.roots...)
}

// Classify returns the event for n, or false when n is not coding activity.
// Malformed notifications are dropped without error.
func (c *Classifier) Classify(n Notification, now time.Time) (Event, bool) {
	switch n := n.(type) {
	case Open:
		ev, ok := c.newEvent(n.URI, now)
		if !ok {
			return Event{}, false
		}
		if n.LanguageID != "" {
			ev.Language = n.LanguageID
		}
		return ev, true

	case Save:
		ev, ok := c.newEvent(n.URI, now)
		if !ok {
			return Event{}, false
		}
		ev.IsWrite = true
		ev.IsSave = true
		if n.Text != nil {
			ev.LinesInFile = strings.Count(*n.Text, "\n") + 1
		}
		return ev, true

	case Change:
		edit, ok := firstEdit(n.Changes)
		if !ok {
			return Event{}, false
		}
		ev, ok := c.newEvent(n.URI, now)
		if !ok {
			return Event{}, false
		}
		if edit.Range != nil {
			ev.LineNumber = edit.Range.StartLine + 1
			ev.CursorPos = edit.Range.StartCharacter + 1
		}
		return ev, true

	default:
		return Event{}, false
	}
}

// firstEdit returns the first change that alters the document: new text or
// a non-empty replaced range.
func firstEdit(changes []ContentChange) (ContentChange, bool) {
	for _, ch := range changes {
		if ch.Text != "" {
			return ch, true
		}
		if ch.Range != nil && !ch.Range.Empty() {
			return ch, true
		}
	}
	return ContentChange{}, false
}

func (c *Classifier) newEvent(uri string, now time.Time) (Event, bool) {
	path, ok := PathFromURI(uri)
	if !ok {
		return Event{}, false
	}
	project, folder := c.project(path)
	return Event{
		Time:          now,
		FilePath:      path,
		Project:       project,
		ProjectFolder: folder,
		Language:      c.language(uri),
	}, true
}

// project returns the base name and path of the deepest workspace root
// containing path.
func (c *Classifier) project(path string) (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, root := range c.roots {
		prefix := root
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if path == root || strings.HasPrefix(path, prefix) {
			return projectName(root), root
		}
	}
	return "", ""
}

// projectName is the base name of root, or empty for a filesystem root.
func projectName(root string) string {
	name := filepath.Base(root)
	if name == string(filepath.Separator) || name == "." || strings.HasSuffix(name, ":"+string(filepath.Separator)) {
		return ""
	}
	return name
}

// PathFromURI converts a file:// URI into a cleaned absolute path.
// Other schemes (untitled:, git:) are rejected.
func PathFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, "file://") {
		return "", false
	}
	u, err := url.Parse(uri)
	if err != nil || u.Path == "" {
		return "", false
	}

	path := u.Path
	if runtime.GOOS == "windows" && strings.HasPrefix(path, "/") {
		path = path[1:]
	}
	path = filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsAbs(path) {
		return "", false
	}
	return path, true
}
