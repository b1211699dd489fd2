// Package warpflow is the in-process orchestration engine that runs the
// warpmaster coordinator, its download workers and the cleanup phase.
//
// Each task runs in its own goroutine under a cancellable context. Tasks are
// addressed by a caller-chosen ID; at most one live run exists per ID, and
// Spawn reports ErrAlreadyStarted instead of creating a duplicate unless the
// terminate-if-running reuse policy asks for the live run to be replaced.
// A run already being canceled or terminated no longer counts as live: Spawn
// waits for it to exit and starts a new run under either policy.
//
// Signals are delivered into a per-run Mailbox. A signal whose target has no
// live run is queued and handed to the next run with that ID, or dropped once
// its TTL elapses. Runs and queued signals are written to a Journal so that a
// restarted process can Recover them; recovered runs are re-executed from the
// start under their original run IDs.
package warpflow
