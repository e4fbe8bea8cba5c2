package process

import "errors"

// ErrAlreadyStarted is returned when a Process is run twice, or when its Options are modified after it was started.
var ErrAlreadyStarted = errors.New("process has already started")
