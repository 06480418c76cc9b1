// Package deadline extends a QUIC transport implementation with
// deadline-aware streams: per-stream and per-chunk delivery deadlines
// that drive scheduling, hard-deadline drop signalling, multipath
// routing and congestion-control urgency.
//
// The package does not implement a QUIC connection itself. The base
// handshake, version negotiation, generic reliable-stream buffering,
// ACK processing and the UDP event loop remain the host's job; this
// package is driven entirely by explicit calls from the host's
// single-threaded event loop and never blocks, spawns a goroutine, or
// takes a lock. All timestamps are microseconds on a monotonic clock
// supplied by the host.
package deadline
