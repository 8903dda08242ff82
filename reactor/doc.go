// Package reactor implements a single-threaded epoll socket reactor that can be
// driven from any number of goroutines.
//
// Callers never touch socket state. Every operation is encoded as a small
// command frame and written to an internal pipe; the reactor goroutine, locked
// to one OS thread, is the only reader of that pipe and the only writer of
// per-socket state. Results are reported as Events to a single Handler that
// runs inline on the reactor goroutine, so it must not block.
//
// Sockets are addressed by ID. An ID maps to a table slot (id % capacity) and
// also records which generation of that slot it refers to, so requests for a
// socket that was closed and whose slot was reused are detected and rejected.
//
// The package is Linux only.
package reactor
