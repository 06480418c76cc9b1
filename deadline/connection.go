package deadline

import "github.com/pkg/errors"

// Defaults and wire-level constants.
const (
	DefaultMinNonDeadlineShare = 0.20
	DefaultMaxStarvationUS     = 50_000
	FairnessWindowUS           = 100_000
	DeadlineCheckIntervalUS    = 10_000
	ProximityThresholdUS       = 10_000
	MaxCachedPaths             = 16
	MinReservedStreamID        = 4

	// MinSegmentSize approximates "minimum segment size" for the
	// fairness-byte-share estimate the scheduler books before the
	// packet is actually serialized.
	MinSegmentSize = 1200
)

// DeadlineMissedFunc is invoked exactly once per hard-class stream
// whose deadline fires, whether or not any unsent bytes were left to
// drop.
type DeadlineMissedFunc func(streamID uint64)

// Connection holds the deadline-aware extension state for one QUIC
// connection. It is driven entirely by explicit calls from the host's
// single-threaded event loop: there are no goroutines, channels or
// locks anywhere in this package, and no operation blocks.
type Connection struct {
	// Negotiated is true iff both endpoints advertised
	// enable_deadline_aware_streams during the handshake.
	Negotiated bool
	// SchedulingActive equals Negotiated at steady state; a host may
	// still flip it off (e.g. mid-migration) without losing negotiation.
	SchedulingActive bool

	streams map[uint64]*Stream

	// 100ms rolling fairness window.
	fairnessStarted       bool // true once fairnessWindowStartUS/lastNonDeadlineSentUS carry a real clock reading
	fairnessWindowStartUS int64
	deadlineBytesSent     uint64
	nonDeadlineBytesSent  uint64
	minNonDeadlineShare   float64
	lastNonDeadlineSentUS int64
	maxStarvationUS       int64

	onDeadlineMissed DeadlineMissedFunc

	paths           map[PathID]*PathMetrics
	multipathActive bool

	Urgency *UrgencyAdapter

	pending []OutboundFrame
}

// NewConnection returns connection-level deadline state. negotiated
// should reflect whether both endpoints advertised
// TransportParameterDeadlineAwareStreams during the handshake.
func NewConnection(negotiated bool) *Connection {
	return &Connection{
		Negotiated:          negotiated,
		SchedulingActive:    negotiated,
		streams:             make(map[uint64]*Stream),
		minNonDeadlineShare: DefaultMinNonDeadlineShare,
		maxStarvationUS:     DefaultMaxStarvationUS,
		paths:               make(map[PathID]*PathMetrics),
		Urgency:             newUrgencyAdapter(),
	}
}

// EnableMultipath turns on path-aware scheduling and retransmission.
func (c *Connection) EnableMultipath() { c.multipathActive = true }

// MultipathActive reports whether multipath routing is in effect.
func (c *Connection) MultipathActive() bool { return c.multipathActive }

// SetStreamDeadline implements the sender API: it fails with
// ErrInvalidStreamID for reserved IDs, otherwise creates the stream on
// demand, stores the deadline and queues one DEADLINE_CONTROL frame
// the first time the stream receives a deadline.
func (c *Connection) SetStreamDeadline(streamID uint64, deadlineMS uint64, class Class, nowUS int64) (*Stream, error) {
	if streamID < MinReservedStreamID {
		return nil, newError(ErrInvalidStreamID, errors.Errorf("stream id %d is reserved", streamID))
	}
	s := c.ensureStream(streamID)
	s.DeadlineMS = deadlineMS
	s.AbsoluteDeadlineUS = nowUS + int64(deadlineMS)*1000
	s.Class = class
	s.Enabled = true

	if !s.deadlineControlQueued {
		s.deadlineControlQueued = true
		if c.Negotiated {
			c.pending = append(c.pending, OutboundFrame{
				Kind:       FrameDeadlineControl,
				StreamID:   streamID,
				DeadlineMS: deadlineMS,
			})
		}
	}
	return s, nil
}

// SetFairnessParams updates the fairness floor and anti-starvation
// ceiling. minNonDeadlineShare is clamped to [0,1]; a non-positive
// maxStarvationUS is ignored, keeping the previous value.
func (c *Connection) SetFairnessParams(minNonDeadlineShare float64, maxStarvationUS int64) {
	switch {
	case minNonDeadlineShare < 0:
		minNonDeadlineShare = 0
	case minNonDeadlineShare > 1:
		minNonDeadlineShare = 1
	}
	c.minNonDeadlineShare = minNonDeadlineShare
	if maxStarvationUS > 0 {
		c.maxStarvationUS = maxStarvationUS
	}
}

// RegisterDeadlineMissedCallback installs the callback invoked when a
// hard deadline fires.
func (c *Connection) RegisterDeadlineMissedCallback(fn DeadlineMissedFunc) {
	c.onDeadlineMissed = fn
}

// Stream looks up existing deadline state for a stream ID.
func (c *Connection) Stream(streamID uint64) (*Stream, bool) {
	s, ok := c.streams[streamID]
	return s, ok
}

// OpenStream registers deadline state for a stream that carries no
// deadline yet (or never will), so the host can enqueue and schedule
// ordinary FIFO data through the same Stream API. A later
// SetStreamDeadline call against the same ID attaches a deadline to
// this same state.
func (c *Connection) OpenStream(streamID uint64) *Stream {
	return c.ensureStream(streamID)
}

// ensureStream returns (creating on demand) the deadline state for a
// stream, used both by the local sender API and by inbound
// DEADLINE_CONTROL/STREAM_DATA_DROPPED handling.
func (c *Connection) ensureStream(streamID uint64) *Stream {
	s, ok := c.streams[streamID]
	if !ok {
		s = newStream(streamID, c)
		c.streams[streamID] = s
	}
	return s
}

// RemoveStream destroys deadline state when the owning stream closes.
func (c *Connection) RemoveStream(streamID uint64) {
	delete(c.streams, streamID)
}

// ForEachStream iterates all streams with attached deadline state in
// unspecified order, stopping early if fn returns false.
func (c *Connection) ForEachStream(fn func(*Stream) bool) {
	for _, s := range c.streams {
		if !fn(s) {
			return
		}
	}
}

// TakePendingFrames drains and returns the control/drop frames queued
// since the last call; the host is responsible for reliably
// transmitting them.
func (c *Connection) TakePendingFrames() []OutboundFrame {
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

func (c *Connection) queueFrame(f OutboundFrame) {
	if !c.Negotiated {
		return
	}
	c.pending = append(c.pending, f)
}

// SetPathMetrics records or updates the cached metrics for a path,
// bounded to MaxCachedPaths distinct paths.
func (c *Connection) SetPathMetrics(path PathID, m PathMetrics) {
	if _, exists := c.paths[path]; !exists && len(c.paths) >= MaxCachedPaths {
		return
	}
	mm := m
	c.paths[path] = &mm
}

// PathMetrics returns the cached metrics for a path, if known.
func (c *Connection) PathMetrics(path PathID) (PathMetrics, bool) {
	m, ok := c.paths[path]
	if !ok {
		return PathMetrics{}, false
	}
	return *m, true
}

// Paths returns the set of cached path IDs in unspecified order.
func (c *Connection) Paths() []PathID {
	out := make([]PathID, 0, len(c.paths))
	for p := range c.paths {
		out = append(out, p)
	}
	return out
}

// evaluateFairness inspects the running byte share within the current
// rolling fairness window and the anti-starvation timer, returning
// true if the scheduler must force a non-deadline pick this round.
// The floor is enforced continuously against the running totals
// booked so far in the window, not only once the window elapses —
// otherwise a non-deadline stream can starve for an entire window
// before the floor ever bites. The window still rolls over once it
// has elapsed.
func (c *Connection) evaluateFairness(nowUS int64) bool {
	if !c.fairnessStarted {
		c.fairnessStarted = true
		c.fairnessWindowStartUS = nowUS
		// A stream that has never been scheduled must still be able to
		// trip the starvation fallback; baseline it to window start
		// rather than leaving it at the zero value, which would read as
		// "just sent" and suppress the fallback indefinitely.
		c.lastNonDeadlineSentUS = nowUS
	}

	force := false
	total := c.deadlineBytesSent + c.nonDeadlineBytesSent
	if total > 0 {
		share := float64(c.nonDeadlineBytesSent) / float64(total)
		if share < c.minNonDeadlineShare {
			force = true
		}
	}

	if nowUS-c.lastNonDeadlineSentUS > c.maxStarvationUS {
		force = true
	}

	if nowUS-c.fairnessWindowStartUS >= FairnessWindowUS {
		c.fairnessWindowStartUS = nowUS
		c.deadlineBytesSent = 0
		c.nonDeadlineBytesSent = 0
	}
	return force
}

// recordScheduled books the estimated byte share of a scheduling
// decision against the fairness window and bumps the chosen stream's
// round-robin timestamp.
func (c *Connection) recordScheduled(s *Stream, nowUS int64, estBytes uint64) {
	s.lastTimeDataSentUS = nowUS
	if s.HasActiveDeadline() {
		c.deadlineBytesSent += estBytes
		return
	}
	c.nonDeadlineBytesSent += estBytes
	c.lastNonDeadlineSentUS = nowUS
}
