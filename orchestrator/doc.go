// Package orchestrator drives module installs to completion.
//
// One install may run per module at a time. Admission is a two-step
// handshake: a non-blocking per-module lock closes the race between reading
// the status map and starting work, and the installability gate is then
// re-evaluated under that lock. Status transitions are persisted to the
// settings store before the lock is released, so a status query immediately
// after an install returns always sees the terminal state, and a crash
// mid-install leaves durable evidence.
//
// Install routines are treated as single blocking calls with no timeout of
// their own; a hung routine holds its module's lock until it returns. Panics
// from a routine are recovered here and recorded as a failed attempt.
package orchestrator
