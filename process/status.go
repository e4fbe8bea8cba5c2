package process

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a Process.
type Status int

const (
	// StatusNotStarted is the state of a Process before Run launches the child.
	StatusNotStarted Status = iota
	// StatusStarted indicates the child is running.
	StatusStarted
	// StatusTimedOut indicates the child was killed because it ran longer than the timeout.
	StatusTimedOut
	// StatusCancelled indicates the run was cancelled, and the child killed if it had been launched.
	StatusCancelled
	// StatusFinished indicates the child exited on its own. The exit code may still be non-zero.
	StatusFinished
)

var statusNames = map[Status]string{
	StatusNotStarted: "NotStarted",
	StatusStarted:    "Started",
	StatusTimedOut:   "TimedOut",
	StatusCancelled:  "Cancelled",
	StatusFinished:   "Finished",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsTerminal reports whether no further transitions can happen from s.
func (s Status) IsTerminal() bool {
	return s == StatusTimedOut || s == StatusCancelled || s == StatusFinished
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown process status %q", name)
}
