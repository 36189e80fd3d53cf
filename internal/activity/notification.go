// Package activity turns editor notifications into coding-activity events.
package activity

// Notification is a typed editor notification produced by the LSP front-end.
type Notification interface {
	notification()
}

// Open is sent when a document is opened.
type Open struct {
	URI        string
	LanguageID string
}

// Change is sent for textDocument/didChange.
type Change struct {
	URI     string
	Changes []ContentChange
}

// ContentChange is one entry of a didChange notification. Range is nil for
// full-document replacements.
type ContentChange struct {
	Range *Range
	Text  string
}

// Range is the start position of an edited range, zero-based as in LSP.
type Range struct {
	StartLine      int
	StartCharacter int
	EndLine        int
	EndCharacter   int
}

// Empty reports whether the range covers no characters.
func (r Range) Empty() bool {
	return r.StartLine == r.EndLine && r.StartCharacter == r.EndCharacter
}

// Save is sent for textDocument/didSave. Text is set when the client
// includes the saved content.
type Save struct {
	URI  string
	Text *string
}

func (Open) notification() {}
func (Change) notification() {}
func (Save) notification() {}
