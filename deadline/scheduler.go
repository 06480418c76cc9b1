package deadline

import "math"

// FlowControl reports the local/connection flow-control state and
// stream-ID admission the scheduler must respect. Base QUIC flow
// control and stream-ID accounting remain the host's responsibility;
// this is the narrow read-only view C6 needs.
type FlowControl interface {
	// StreamWindowAvailable returns the bytes this stream may still send
	// under its own flow-control limit.
	StreamWindowAvailable(streamID uint64) uint64
	// ConnectionWindowAvailable returns the bytes the connection may
	// still send in total under its flow-control limit.
	ConnectionWindowAvailable() uint64
	// StreamIDAllowed reports whether the stream ID is within the
	// negotiated stream-ID limit for its first send.
	StreamIDAllowed(streamID uint64) bool
}

// SelectStream picks the next stream to emit on path p, per §4.3. It
// returns (nil, false) if nothing is eligible to send.
func (c *Connection) SelectStream(nowUS int64, p PathID, fc FlowControl) (*Stream, bool) {
	excluded := make(map[uint64]bool)

	for {
		s, ok := c.selectStreamOnce(nowUS, p, fc, excluded)
		if !ok {
			return nil, false
		}

		// Per-chunk expiry guard: defer the drop to C7/C5 and retry
		// selection rather than emit data past an expired chunk.
		if s.Class == Hard {
			if head, hok := s.HeadChunk(); hok && head.ChunkDeadlineUS != nil && nowUS >= *head.ChunkDeadlineUS {
				excluded[s.ID] = true
				continue
			}
		}

		c.recordScheduled(s, nowUS, MinSegmentSize)
		return s, true
	}
}

func (c *Connection) selectStreamOnce(nowUS int64, p PathID, fc FlowControl, excluded map[uint64]bool) (*Stream, bool) {
	var eligible []*Stream
	c.ForEachStream(func(s *Stream) bool {
		if excluded[s.ID] || s.finished {
			return true
		}
		if s.resetRequested || s.stopSendingRequested {
			eligible = append(eligible, s)
			return true
		}
		if isEligible(s, fc, p, c.multipathActive) {
			eligible = append(eligible, s)
		}
		return true
	})

	for _, s := range eligible {
		if s.resetRequested || s.stopSendingRequested {
			return s, true
		}
	}

	force := c.evaluateFairness(nowUS)
	nonDeadline := pickNonDeadlineCandidate(eligible)

	if force && nonDeadline != nil {
		return nonDeadline, true
	}
	if edf := pickEDFCandidate(eligible, nowUS); edf != nil {
		return edf, true
	}
	if nonDeadline != nil {
		return nonDeadline, true
	}
	return nil, false
}

func isEligible(s *Stream, fc FlowControl, p PathID, multipath bool) bool {
	if s.UnsentBytes() == 0 {
		return false
	}
	if !fc.StreamIDAllowed(s.ID) {
		return false
	}
	if fc.ConnectionWindowAvailable() == 0 || fc.StreamWindowAvailable(s.ID) == 0 {
		return false
	}
	if multipath && s.hasPathAffinity && s.pathAffinity != p {
		return false
	}
	return true
}

// effectiveDeadlineUS is the deadline the scheduler competes on: the
// stream's overall deadline, tightened by the head chunk's own
// deadline if it is sooner.
func (s *Stream) effectiveDeadlineUS() int64 {
	d := s.AbsoluteDeadlineUS
	if head, ok := s.HeadChunk(); ok && head.ChunkDeadlineUS != nil && *head.ChunkDeadlineUS < d {
		d = *head.ChunkDeadlineUS
	}
	return d
}

// pickEDFCandidate finds the earliest absolute deadline among
// eligible deadline streams, then returns the oldest-sent stream
// within ProximityThresholdUS of it (round-robin within the urgency
// group), implementing the "proximity group" from the glossary.
func pickEDFCandidate(eligible []*Stream, nowUS int64) *Stream {
	earliest := int64(math.MaxInt64)
	found := false
	for _, s := range eligible {
		if !s.HasActiveDeadline() {
			continue
		}
		if d := s.effectiveDeadlineUS(); !found || d < earliest {
			earliest = d
			found = true
		}
	}
	if !found {
		return nil
	}

	var best *Stream
	for _, s := range eligible {
		if !s.HasActiveDeadline() {
			continue
		}
		if s.effectiveDeadlineUS() <= earliest+ProximityThresholdUS {
			if best == nil || s.lastTimeDataSentUS < best.lastTimeDataSentUS {
				best = s
			}
		}
	}
	return best
}

// pickNonDeadlineCandidate applies the base (non-deadline) priority
// policy: a FIFO-tagged stream is ordered by stream ID (QUIC assigns
// IDs in creation order, making ID a FIFO proxy); otherwise the
// longest-waiting stream by last send time wins.
func pickNonDeadlineCandidate(eligible []*Stream) *Stream {
	var best *Stream
	for _, s := range eligible {
		if s.HasActiveDeadline() {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		if s.priorityFIFO || best.priorityFIFO {
			if s.ID < best.ID {
				best = s
			}
			continue
		}
		if s.lastTimeDataSentUS < best.lastTimeDataSentUS {
			best = s
		}
	}
	return best
}

// SetPriorityFIFO toggles the base priority policy bit non-deadline
// streams compete under when there is no deadline candidate.
func (s *Stream) SetPriorityFIFO(fifo bool) { s.priorityFIFO = fifo }
