package debugger

import "github.com/dapbridge/dapbridge/service/api"

// outputRing keeps the most recent output events of a session. Every event
// gets a sequence number so callers can ask for what arrived after a mark.
type outputRing struct {
	max    int
	next   int
	events []api.OutputEvent
	// first is the sequence number of events[0].
	first int
}

func newOutputRing(max int) *outputRing {
	if max <= 0 {
		max = 1
	}
	return &outputRing{max: max}
}

func (r *outputRing) add(ev api.OutputEvent) {
	r.events = append(r.events, ev)
	r.next++
	if len(r.events) > r.max {
		drop := len(r.events) - r.max
		r.events = append(r.events[:0], r.events[drop:]...)
		r.first += drop
	}
}

// mark returns the sequence number the next event will get.
func (r *outputRing) mark() int {
	return r.next
}

// since returns the retained events with sequence number >= seq.
func (r *outputRing) since(seq int) []api.OutputEvent {
	if seq < r.first {
		seq = r.first
	}
	if seq >= r.next {
		return nil
	}
	return append([]api.OutputEvent(nil), r.events[seq-r.first:]...)
}
