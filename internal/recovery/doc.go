// Package recovery persists scheduler entries and brings them back across
// process restarts and user sessions.
//
// The scheduler reports every mutation through its observer; the manager
// coalesces those snapshots per entry and writes them from one background
// worker, so the scheduler never waits on storage. OnSessionEnd and
// OnAppShutdown block until the writes are durable.
package recovery
