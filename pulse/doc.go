// Package pulse provides the timing primitives the sync channel is built on:
// a fixed-window trailing Debouncer, a resettable Deadline, and a
// context-bound Ticker. All of them take a clockwork.Clock so tests can drive
// time by hand.
//
// Timer callbacks run on their own goroutine. Every primitive guards its
// callback with a generation counter, so a timer that fires after it was
// cancelled, reset or stopped never runs the callback.
package pulse
