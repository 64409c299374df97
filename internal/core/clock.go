package core

import "time"

// Clock supplies the event loop's notion of "now" so tests can drive timers
// deterministically, matching the explicit-now idiom nhdp/topology/router
// already use throughout.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
