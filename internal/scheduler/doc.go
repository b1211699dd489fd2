// Package scheduler fires named events at wall-clock times, optionally
// recurring on a cron expression. The daemon uses it to redeclare the
// manifest periodically.
//
// A single goroutine owns a min-heap of events sorted by trigger time and
// never sleeps longer than 60 seconds, so clock steps and system sleep delay
// an event by at most that cap. Nothing is persisted; the daemon re-adds its
// events on start.
package scheduler
