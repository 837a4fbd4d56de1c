// Package checker turns a recorded history into a consistency verdict.
//
// A verdict answers one question: does the history have an explanation
// under the task's consistency model? Two outcomes exist, Consistent and
// Inconsistent. Everything else (checker process missing, malformed
// history, timeout) is an error, never a verdict. The split is structural
// so a broken checker can never masquerade as a failing backend.
//
// Two checker families are provided: Elle shells out to an external
// transactional checker process, Porcupine runs an embedded per-key
// linearizability check. Both write their evidence into the run's
// artifacts directory.
package checker

import (
	"context"

	"github.com/roach88/apibench/internal/history"
)

// Verdict is a consistency decision about a complete history.
// The zero value is invalid.
type Verdict int

const (
	// Consistent means the history has a valid explanation under the model.
	Consistent Verdict = iota + 1
	// Inconsistent means the history provably violates the model.
	Inconsistent
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case Consistent:
		return "consistent"
	case Inconsistent:
		return "inconsistent"
	default:
		return "invalid"
	}
}

// Checker decides whether a complete history is consistent.
//
// Check returns a zero Verdict and a non-nil error when no decision could
// be made; callers must treat that as a harness failure, not a violation.
// artifactsDir is an existing directory private to this run; checkers
// write failure evidence (anomaly reports, visualizations) into it.
type Checker interface {
	Name() string
	Check(ctx context.Context, events []history.Event, artifactsDir string) (Verdict, error)
}
