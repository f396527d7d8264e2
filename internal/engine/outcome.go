package engine

// Outcome is the result of one role-based action.
type Outcome int

const (
	// OutcomeSucceeded means exactly one technique was applied successfully.
	OutcomeSucceeded Outcome = iota
	// OutcomeNotFound means the role's locator matched nothing.
	OutcomeNotFound
	// OutcomeFailed means an element was found but every technique failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
