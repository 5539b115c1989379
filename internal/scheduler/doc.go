// Package scheduler is the live scheduling engine.
//
// It owns the in-memory set of entries and exactly one timer per armed entry.
// Every mutation, including timer callbacks, is serialized by one mutex;
// timer callbacks carry a generation number so a callback that lost a race
// with cancel/reschedule/snooze detects it and does nothing.
//
// The scheduler itself never blocks on I/O: alert rendering is delegated to a
// Dispatcher and persistence to an observer callback installed by the
// recovery manager.
package scheduler
