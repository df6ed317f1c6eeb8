package bronze

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// orRealClock lets config structs leave Clock unset in production.
func orRealClock(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}

func nowUTC(c clockwork.Clock) time.Time {
	return c.Now().UTC()
}
