package engine

import "time"

// State is a step of the elimination loop.
type State int

const (
	StateScanning State = iota
	StateRowSelected
	StateMenuOpening
	StateMenuOpen
	StateActionSelecting
	StateConfirming
	StateDeleted
	StateSkipped
	StateErrored
	StateDone
)

var stateNames = [...]string{
	"scanning", "row_selected", "menu_opening", "menu_open",
	"action_selecting", "confirming", "deleted", "skipped", "errored", "done",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// EventKind classifies loop events reported to an Observer.
type EventKind string

const (
	EventDeleted   EventKind = "deleted"
	EventExcluded  EventKind = "excluded"
	EventPreviewed EventKind = "previewed"
	EventErrored   EventKind = "errored"
	EventStale     EventKind = "stale"
	EventAdvanced  EventKind = "advanced"
	EventReset     EventKind = "reset"
	EventDone      EventKind = "done"
)

// Event describes one notable transition.
type Event struct {
	Kind     EventKind
	At       time.Time
	Identity string
	Text     string
	// State is where the loop was when the event happened.
	State  State
	Reason string
	// Deleted is the running deletion count.
	Deleted int
}

// Observer receives loop events synchronously on the loop goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
