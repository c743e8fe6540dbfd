// Package common holds small types shared by the pipeline stages.
package common

// Outcome tags how an external call ended.
type Outcome string

const (
	// Success means the call returned a usable result.
	Success Outcome = "success"
	// Degraded means the call failed or returned garbage and a safe default was used.
	Degraded Outcome = "degraded"
	// Failed means the call failed and there is no meaningful default.
	Failed Outcome = "failed"
	// Skipped means the call was not made, usually for lack of input.
	Skipped Outcome = "skipped"
)

// OK reports whether o is Success or Skipped.
func (o Outcome) OK() bool {
	return o == Success || o == Skipped
}
