package deadline

// Class classifies a stream deadline. Hard permits the transport to
// drop unsent bytes on expiry; Soft only influences scheduling
// priority and never causes a drop. Immutable for the life of the
// deadline.
type Class int

const (
	// Soft deadlines influence scheduling only.
	Soft Class = iota
	// Hard deadlines are enforced by dropping unsent bytes on expiry.
	Hard
)

func (c Class) String() string {
	if c == Hard {
		return "hard"
	}
	return "soft"
}

// Chunk is one application write queued for a stream. It may carry a
// per-chunk deadline independent of (and possibly tighter than) the
// stream's overall deadline; older chunks expire independently of
// newer ones and are always dropped head-first.
type Chunk struct {
	Offset          uint64 // absolute stream offset of Data[0]
	Data            []byte
	EnqueueTimeUS   int64
	ChunkDeadlineUS *int64 // nil if this chunk carries no independent deadline
}

// End returns the absolute offset just past the chunk.
func (c *Chunk) End() uint64 { return c.Offset + uint64(len(c.Data)) }

// Stream holds the deadline state attached to one application stream,
// created on demand the first time a deadline touches it (locally or
// via a peer DEADLINE_CONTROL frame). A stream's deadline state is
// owned exclusively by the stream and destroyed with it.
type Stream struct {
	ID   uint64
	conn *Connection

	// Deadline fields, controlling when bytes may be dropped.
	DeadlineMS         uint64
	AbsoluteDeadlineUS int64
	Class              Class
	Enabled            bool

	// Dropped-range bookkeeping (C1 instances).
	SenderDropped   *IntervalSet
	ReceiverDropped *IntervalSet
	BytesDropped    uint64
	DeadlinesMissed uint64

	// Send queue, always kept in ascending-offset order; queue[0] is
	// the oldest unsent chunk.
	queue      []*Chunk
	tailOffset uint64 // absolute offset of the next byte Enqueue will assign

	// Scheduling bookkeeping (read/written by the EDF scheduler).
	lastTimeDataSentUS int64
	priorityFIFO       bool // base non-deadline priority policy bit
	pathAffinity       PathID
	hasPathAffinity    bool

	// Urgent control, pre-empting ordinary scheduling.
	resetRequested       bool
	stopSendingRequested bool

	finished bool // locally finished: deadline fired or stream closed normally

	// DEADLINE_CONTROL is queued for the peer exactly once, the first
	// time a deadline attaches to this stream.
	deadlineControlQueued bool

	// Receive side: next offset the application has not yet consumed.
	consumedOffset uint64
	gapPending     *Range // not set by DeliverOrdered, which raises each gap event in the same step that advances past the gap
}

func newStream(id uint64, conn *Connection) *Stream {
	return &Stream{
		ID:              id,
		conn:            conn,
		SenderDropped:   NewIntervalSet(),
		ReceiverDropped: NewIntervalSet(),
	}
}

// HasActiveDeadline reports whether the stream currently carries a
// deadline that has not yet been acted on.
func (s *Stream) HasActiveDeadline() bool { return s.Enabled }

// Finished reports whether the stream is locally finished, either
// because a hard deadline dropped its remaining bytes or because the
// host closed it normally.
func (s *Stream) Finished() bool { return s.finished }

// SetPathAffinity pins the stream to a path for multipath scheduling.
func (s *Stream) SetPathAffinity(p PathID) {
	s.pathAffinity = p
	s.hasPathAffinity = true
}

// ClearPathAffinity removes any path pin.
func (s *Stream) ClearPathAffinity() { s.hasPathAffinity = false }

// RequestReset marks the stream for an urgent RESET_STREAM; the
// scheduler returns it immediately ahead of any deadline candidate.
func (s *Stream) RequestReset() { s.resetRequested = true }

// RequestStopSending marks the stream for an urgent STOP_SENDING.
func (s *Stream) RequestStopSending() { s.stopSendingRequested = true }

// Enqueue appends an application write to the stream's send queue,
// returning the absolute offset assigned to its first byte.
func (s *Stream) Enqueue(data []byte, chunkDeadlineUS *int64, nowUS int64) uint64 {
	off := s.tailOffset
	buf := append([]byte(nil), data...)
	s.queue = append(s.queue, &Chunk{
		Offset:          off,
		Data:            buf,
		EnqueueTimeUS:   nowUS,
		ChunkDeadlineUS: chunkDeadlineUS,
	})
	s.tailOffset += uint64(len(buf))
	return off
}

// HeadChunk returns the oldest unsent chunk, if any.
func (s *Stream) HeadChunk() (*Chunk, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	return s.queue[0], true
}

// UnsentBytes sums the bytes still queued for this stream.
func (s *Stream) UnsentBytes() uint64 {
	var total uint64
	for _, c := range s.queue {
		total += uint64(len(c.Data))
	}
	return total
}

// unsentRange reports the absolute [start, end) covered by everything
// still queued. When nothing is queued it reports an empty range at
// the current tail, matching "a stream with no queued bytes whose
// overall deadline has passed simply fires the callback".
func (s *Stream) unsentRange() (start, end uint64) {
	if len(s.queue) == 0 {
		return s.tailOffset, s.tailOffset
	}
	return s.queue[0].Offset, s.tailOffset
}

// dropAllQueued clears the entire send queue, recording no interval
// itself — the caller (the expiry engine) records the merged range.
func (s *Stream) dropAllQueued() {
	s.queue = nil
}

// popHeadChunk removes and returns the head chunk.
func (s *Stream) popHeadChunk() *Chunk {
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c
}

// splitHeadChunkAt splits the head chunk at absolute offset cut,
// keeping [cut, head.End()) as the new head and discarding the
// prefix. cut must lie strictly inside the head chunk.
func (s *Stream) splitHeadChunkAt(cut uint64) {
	head := s.queue[0]
	keep := cut - head.Offset
	head.Data = head.Data[keep:]
	head.Offset = cut
}

// Sent consumes n bytes from the front of the send queue: the host's
// report of how much of a previously scheduled segment actually left
// the wire. A partial write trims the head chunk in place; a write
// covering the whole head chunk (and possibly more) pops it and
// continues into the next.
func (s *Stream) Sent(n uint64) {
	for n > 0 {
		head, ok := s.HeadChunk()
		if !ok {
			return
		}
		remaining := uint64(len(head.Data))
		if n < remaining {
			head.Data = head.Data[n:]
			head.Offset += n
			return
		}
		n -= remaining
		s.popHeadChunk()
	}
}

// RecordReceiverDrop records a peer-reported dropped range, used by
// the receive gap surfacer (C8) to fabricate an ordered gap.
func (s *Stream) RecordReceiverDrop(offset, length uint64) {
	s.ReceiverDropped.Insert(offset, offset+length)
}

// ConsumedOffset returns the next offset the application has not yet
// consumed on the receive side.
func (s *Stream) ConsumedOffset() uint64 { return s.consumedOffset }
