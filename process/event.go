package process

import "fmt"

// EventType identifies what happened in an Event.
type EventType int

const (
	EventStarted EventType = iota
	EventStdout
	EventStderr
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is delivered to handlers registered with Process.Subscribe.
type Event struct {
	Type    EventType
	Process *Process
	// Line is the line of text read from the child, without its line terminator.
	// It is empty for EventStarted.
	Line string
}

// Handler observes events of a Process. Handlers are always called from the goroutine running Process.Run, one at a time.
type Handler func(Event)
