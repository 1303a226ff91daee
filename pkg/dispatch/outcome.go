package dispatch

import "time"

// Outcome is the terminal state a dispatch reached before its context was
// closed.
type Outcome int

const (
	// Completed: the handler ran and reported success.
	Completed Outcome = iota
	// Declined: the handler ran but reported it did not process the request.
	Declined
	// NoHandler: the resolver found no handler for the request.
	NoHandler
	// ResolutionFailed: the resolver itself failed.
	ResolutionFailed
	// ExecutionFailed: the handler failed while executing.
	ExecutionFailed
)

var outcomeNames = [...]string{
	Completed:        "completed",
	Declined:         "declined",
	NoHandler:        "no_handler",
	ResolutionFailed: "resolution_failed",
	ExecutionFailed:  "execution_failed",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	return []Outcome{Completed, Declined, NoHandler, ResolutionFailed, ExecutionFailed}
}

// Observer receives dispatch lifecycle events. Implementations must be
// safe for concurrent use.
type Observer interface {
	Started(method string)
	Finished(method string, outcome Outcome, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Started(string)                               {}
func (nopObserver) Finished(string, Outcome, int, time.Duration) {}
