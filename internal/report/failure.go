package report

import "fmt"

// FailureKind classifies why a report could not be produced.
type FailureKind string

const (
	SpawnFailed      FailureKind = "spawn_failed"
	TimedOut         FailureKind = "timed_out"
	NonzeroExit      FailureKind = "nonzero_exit"
	UnparsableOutput FailureKind = "unparsable_output"
)

// DefaultDiagnosticMax bounds the diagnostic carried by a Failure.
const DefaultDiagnosticMax = 1200

const truncatedSuffix = "\n...[recortado]"

// Failure is returned by the runner and the pipeline when a report run fails.
type Failure struct {
	Kind       FailureKind
	Diagnostic string
	ExitCode   int
}

func (f *Failure) Error() string {
	if f.Diagnostic == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Diagnostic)
}

// Soft reports whether the program itself succeeded and only its output was
// unusable.
func (f *Failure) Soft() bool {
	return f.Kind == UnparsableOutput
}

func newFailure(kind FailureKind, diagnostic string, maxLen int) *Failure {
	return &Failure{Kind: kind, Diagnostic: truncateDiagnostic(diagnostic, maxLen), ExitCode: -1}
}

// truncateDiagnostic keeps at most maxLen bytes, cut on a rune boundary.
func truncateDiagnostic(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultDiagnosticMax
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + truncatedSuffix
}
