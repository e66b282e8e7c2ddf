// Package extract turns raw resume text into a validated structured record,
// tolerating an unreliable extraction capability via a cascade of strategies.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
)

// Capability is the external text-to-structured-data dependency.
// *llm.Client satisfies it; tests substitute fakes.
type Capability interface {
	// CompleteJSON asks for output conforming to the given schema.
	CompleteJSON(ctx context.Context, system, user string, schema map[string]any) (string, error)
	// CompleteText asks without an output-shape constraint.
	CompleteText(ctx context.Context, system, user string) (string, error)
}

// Strategy identifies which rung of the cascade produced a result.
type Strategy string

const (
	StrategySchema            Strategy = "schema"
	StrategySalvage           Strategy = "salvage"
	StrategyFreeform          Strategy = "freeform"
	StrategyFreeformTruncated Strategy = "freeform_truncated"
	StrategyFeedback          Strategy = "feedback"
)

// Result is a successful extraction: normalized content plus which
// strategy got there and whether JSON repair was needed along the way.
type Result struct {
	Content  json.RawMessage
	Strategy Strategy
	Repaired bool
}

// rawDiagnosticLimit bounds how much of the last raw response is kept
// on a terminal extraction failure.
const rawDiagnosticLimit = 2000

// Error is the typed failure returned when every strategy is exhausted.
// Raw carries the truncated last response for diagnostics; it is stored
// internally and never surfaced to the calling user.
type Error struct {
	Category Category
	Raw      string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed (%s): %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(cat Category, raw string, err error) *Error {
	if len(raw) > rawDiagnosticLimit {
		raw = raw[:rawDiagnosticLimit]
	}
	return &Error{Category: cat, Raw: raw, Err: err}
}
