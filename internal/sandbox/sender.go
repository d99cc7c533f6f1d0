package sandbox

// sendBuffer is how many events may wait for a slow client before the
// readers block.
const sendBuffer = 64

// sender hands events to emit on its own goroutine, so the run loop keeps
// watching the deadline and the output cap while a write is stuck.
type sender struct {
	events chan Event
	failed chan struct{}
	done   chan struct{}
}

func newSender(emit func(Event) error) *sender {
	s := &sender{
		events: make(chan Event, sendBuffer),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop(emit)
	return s
}

// loop stops calling emit after its first error and discards the rest.
func (s *sender) loop(emit func(Event) error) {
	defer close(s.done)
	broken := false
	for ev := range s.events {
		if broken {
			continue
		}
		if err := emit(ev); err != nil {
			broken = true
			close(s.failed)
		}
	}
}

func (s *sender) hasFailed() bool {
	select {
	case <-s.failed:
		return true
	default:
		return false
	}
}

// close queues last, unless nothing can be delivered any more, and returns
// once every queued event was written or dropped.
func (s *sender) close(last *Event) {
	if last != nil && !s.hasFailed() {
		select {
		case s.events <- *last:
		case <-s.failed:
		}
	}
	close(s.events)
	<-s.done
}
