package cmd

import "time"

// DEF_TIMEOUT bounds a single control plane call.
const DEF_TIMEOUT = 30 * time.Second

const DESCRIPTION = `
warpmaster keeps a fleet of download workers in line with a declared list
of files. A coordinator reaps workers nobody wants any more, starts the
missing ones, waits for every completion notification and then runs one
cleanup phase.
`

const (
	DaemonDescription = `The daemon command runs the coordinator engine and its
JSON-RPC control plane until interrupted. Unfinished tasks are
resumed from the journal on the next start.

Example:
        warpmaster daemon
        warpmaster daemon --init-config

`
	StartDescription = `The start command declares the wanted files and (re)starts
the coordinator. A running coordinator is replaced; the workers
it started keep running and are reused.

Example:
        warpmaster start --file 1f3a...:5s --file 9be0...:3s
        warpmaster start --manifest files.toml

`
	NotifyDescription = `The notify command reports that the file with the given
sha256 finished, on behalf of an external source.

Example:
        warpmaster notify <sha256>

`
	StatusDescription = `The status command prints the coordinator's phase and
its view of pending, spawned and reaped work.

Example:
        warpmaster status

`
	ListDescription = `The list command displays live tasks, optionally filtered
by task type or ID prefix.

Example:
        warpmaster list
        warpmaster list --type DownloadWorkflow

`
	CountDescription = `The count command prints the number of live tasks
matching the filter.

Example:
        warpmaster count --type DownloadWorkflow

`
	CancelDescription = `The cancel command requests cancellation of a live task.

Example:
        warpmaster cancel download-workflow-<sha256>

`
	WatchDescription = `The watch command streams task events from the daemon
until interrupted.

Example:
        warpmaster watch

`
	DemoDescription = `The demo command replays a scenario in-process with an
in-memory engine and draws one progress bar per worker.

Scenarios:
        normal        two items, both complete, cleanup runs once
        early-signal  a notification arrives during initialization
        cancel-stale  a redeclaration drops an item and its worker

Example:
        warpmaster demo normal --unit 200ms

`
)
