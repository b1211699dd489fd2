package scheduler

import "time"

// Event is a pending trigger in the scheduler heap. Names are unique: adding
// an event replaces any pending event with the same name.
type Event struct {
	Name string
	At   time.Time
	// Cron makes the event recurring. Empty means one-shot.
	Cron string
}
