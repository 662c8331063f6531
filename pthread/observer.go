package pthread

import "time"

// Event is a thread lifecycle transition.
type Event uint8

const (
	EventCreated Event = iota
	EventExited
	EventJoined
	EventDetached
	EventCancelled
	EventFaulted
)

var eventNames = [...]string{
	EventCreated:   "created",
	EventExited:    "exited",
	EventJoined:    "joined",
	EventDetached:  "detached",
	EventCancelled: "cancelled",
	EventFaulted:   "faulted",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// Observer receives lifecycle events. Calls happen on the goroutine that
// caused the transition and must not block. For EventExited, d is the time
// the thread spent running; otherwise it is zero.
type Observer interface {
	ThreadEvent(ev Event, handle uint32, d time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event, handle uint32, d time.Duration)

func (f ObserverFunc) ThreadEvent(ev Event, handle uint32, d time.Duration) {
	f(ev, handle, d)
}

// Stats is a snapshot of a Manager's counters.
type Stats struct {
	Live      int
	Created   uint64
	Exited    uint64
	Joined    uint64
	Detached  uint64
	Cancelled uint64
	Faulted   uint64
	HostJoins uint64
}
