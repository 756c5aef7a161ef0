// Package globaltime holds the clocks pipeline services are built with.
package globaltime

import "time"

// UTC is the default clock of every pipeline service.
func UTC() time.Time {
	return time.Now().UTC()
}

// Fixed returns a clock that always reads t.
func Fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
