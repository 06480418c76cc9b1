package deadline

// Receiver is the set of application-visible events the host delivers
// on behalf of a stream. stream_fin and stream_reset are unchanged
// from base QUIC and simply pass through; StreamData and StreamGap
// are the two C8 produces.
type Receiver interface {
	StreamData(streamID uint64, data []byte)
	StreamGap(streamID uint64, length uint64)
	StreamFin(streamID uint64)
	StreamReset(streamID uint64, errorCode uint64)
}

// DeliverOrdered is called by the host once it has contiguous,
// reassembled bytes [s.ConsumedOffset(), offset+len(data)) ready to
// hand to the application (ordinary reassembly/ACK bookkeeping is the
// host's job; this only runs after it). It splices receiver-recorded
// gaps into the delivery sequence per §4.5: the application never
// observes bytes past a gap before that gap's stream_gap event, and
// resumes normal delivery immediately afterward.
//
// offset is normally s.ConsumedOffset(), but may be ahead of it when a
// STREAM_DATA_DROPPED frame for the gap in between has already been
// applied; bytes already known to be inside a recorded dropped range
// must not be passed in data.
func (s *Stream) DeliverOrdered(offset uint64, data []byte, r Receiver) {
	end := offset + uint64(len(data))

	for s.consumedOffset < end {
		gap, hasGap := s.ReceiverDropped.FirstOverlap(s.consumedOffset, end)

		if hasGap && gap.Start <= s.consumedOffset {
			length := gap.End - s.consumedOffset
			s.consumedOffset = gap.End
			r.StreamGap(s.ID, length)
			continue
		}

		// Deliver up to the next gap's start, or up to where offset
		// actually begins (catching up to data we have not been handed
		// yet, with no recorded gap to explain the hole), whichever is
		// sooner.
		nextBoundary := end
		if hasGap && gap.Start < nextBoundary {
			nextBoundary = gap.Start
		}
		if s.consumedOffset < offset && offset < nextBoundary {
			nextBoundary = offset
		}
		if nextBoundary <= s.consumedOffset {
			break
		}

		if s.consumedOffset < offset {
			s.consumedOffset = nextBoundary
			continue
		}

		chunkStart := s.consumedOffset - offset
		chunkEnd := nextBoundary - offset
		r.StreamData(s.ID, data[chunkStart:chunkEnd])
		s.consumedOffset = nextBoundary
	}
}

// DeliverFin signals end-of-stream once all bytes up to the FIN
// offset (accounting for any trailing gap) have been delivered.
func (s *Stream) DeliverFin(r Receiver) {
	r.StreamFin(s.ID)
}

// DeliverReset signals an abrupt stream reset, which supersedes any
// deadline behaviour in progress.
func (s *Stream) DeliverReset(errorCode uint64, r Receiver) {
	s.finished = true
	s.Enabled = false
	r.StreamReset(s.ID, errorCode)
}
