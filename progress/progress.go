// Package progress carries typed progress events from long waits to whatever
// renders them.
package progress

// Tracker receives progress events.
// Implementations must be safe for concurrent use from multiple goroutines.
type Tracker interface {
	OnEvent(any)
}

// NewTracker creates a Tracker from a typed callback. Events of any other
// type are dropped, so one Tracker can be handed to producers of several
// event vocabularies.
func NewTracker[E any](fn func(E)) Tracker {
	return funcTracker(func(v any) {
		if e, ok := v.(E); ok {
			fn(e)
		}
	})
}

// Multi fans each event out to every tracker in order.
func Multi(trackers ...Tracker) Tracker {
	return funcTracker(func(v any) {
		for _, t := range trackers {
			t.OnEvent(v)
		}
	})
}

type funcTracker func(any)

func (f funcTracker) OnEvent(e any) { f(e) }

// Nop is a no-op tracker for callers that don't need progress.
var Nop Tracker = funcTracker(func(any) {})
