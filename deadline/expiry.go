package deadline

// DeadlineMissedEvent describes one hard-class stream whose overall
// deadline fired during a sweep, after RunExpirySweep has already
// dropped its unsent bytes and invoked the registered callback.
type DeadlineMissedEvent struct {
	StreamID     uint64
	BytesDropped uint64
}

// RunExpirySweep walks every stream with an enabled deadline and acts
// on whichever ones have passed, per §4.2. It should be called
// whenever the host wakes up and "now" may have crossed an upcoming
// deadline, and at least once per DeadlineCheckIntervalUS. It returns
// the STREAM_DATA_DROPPED frames produced, mirroring exactly what
// TakePendingFrames would later drain — nothing is returned here that
// TakePendingFrames won't also yield — and fires
// Connection.onDeadlineMissed synchronously for hard-class streams.
func (c *Connection) RunExpirySweep(nowUS int64) []OutboundFrame {
	var emitted []OutboundFrame

	c.ForEachStream(func(s *Stream) bool {
		emitted = append(emitted, c.sweepStream(s, nowUS)...)
		return true
	})

	return emitted
}

func (c *Connection) sweepStream(s *Stream, nowUS int64) []OutboundFrame {
	var emitted []OutboundFrame

	if s.Enabled && nowUS >= s.AbsoluteDeadlineUS {
		emitted = append(emitted, c.expireStreamDeadline(s, nowUS)...)
	}

	if s.Class == Hard {
		emitted = append(emitted, c.sweepChunks(s, nowUS)...)
	}

	return emitted
}

// expireStreamDeadline implements §4.2 step 1: hard streams drop
// whatever is left unsent, finish locally with an implicit FIN at the
// drop boundary (the Design Notes' resolved open question), and fire
// onDeadlineMissed; soft streams simply lose priority by virtue of
// being in the past and never drop anything, so they never fire the
// callback. Either way the deadline is disabled so it can only fire
// once.
func (c *Connection) expireStreamDeadline(s *Stream, nowUS int64) []OutboundFrame {
	var emitted []OutboundFrame

	if s.Class == Hard {
		start, end := s.unsentRange()
		dropped := end - start
		if dropped > 0 {
			s.SenderDropped.Insert(start, end)
			s.BytesDropped += dropped
			s.dropAllQueued()
			f := OutboundFrame{Kind: FrameStreamDataDropped, StreamID: s.ID, Offset: start, Length: dropped}
			c.queueFrame(f)
			if c.Negotiated {
				emitted = append(emitted, f)
			}
		}
		s.finished = true
		s.DeadlinesMissed++

		if c.onDeadlineMissed != nil {
			c.onDeadlineMissed(s.ID)
		}
	}

	s.Enabled = false

	return emitted
}

// sweepChunks implements §4.2 step 2: a strictly head-first per-chunk
// sweep. A chunk expires only once every chunk ahead of it in the
// queue has already been dropped or sent; chunks behind a live head
// are left untouched even if their own deadline has also passed.
func (c *Connection) sweepChunks(s *Stream, nowUS int64) []OutboundFrame {
	var emitted []OutboundFrame

	for {
		head, ok := s.HeadChunk()
		if !ok || head.ChunkDeadlineUS == nil || nowUS < *head.ChunkDeadlineUS {
			break
		}

		start, end := head.Offset, head.End()
		s.SenderDropped.Insert(start, end)
		s.BytesDropped += end - start
		s.popHeadChunk()

		f := OutboundFrame{Kind: FrameStreamDataDropped, StreamID: s.ID, Offset: start, Length: end - start}
		c.queueFrame(f)
		if c.Negotiated {
			emitted = append(emitted, f)
		}
	}

	return emitted
}
