package dispatch

// Severity of a diagnostic surfaced to the editor.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Diagnostic keys group diagnostics of the same kind regardless of the
// file they mention.
const (
	KeySpawn     = "spawn"
	KeyExhausted = "exhausted"
	KeyRejected  = "rejected"
)

// Diagnostic is a non-fatal problem worth showing to the user.
type Diagnostic struct {
	// Key identifies the kind of problem for rate limiting. Message is
	// used when Key is empty.
	Key      string
	Severity Severity
	Message  string
	Err      error
}

// Reporter surfaces diagnostics. Report must not block.
type Reporter interface {
	Report(d Diagnostic)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Diagnostic)

// Report implements Reporter.
func (f ReporterFunc) Report(d Diagnostic) { f(d) }

type nopReporter struct{}

func (nopReporter) Report(Diagnostic) {}
