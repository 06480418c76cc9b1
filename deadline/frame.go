package deadline

import (
	"bytes"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// TransportParameterDeadlineAwareStreams is the (implementation-local)
// transport parameter identifier exchanged during the handshake. Its
// value is zero-length; presence on both sides of the handshake is
// what sets Connection.Negotiated.
const TransportParameterDeadlineAwareStreams = 0xdead01

// Frame type identifiers for the two application-layer frames this
// package defines, picked from the private-use/experimental varint
// range so they never collide with a standard QUIC frame. Receiving
// either frame type on a connection that did not negotiate
// TransportParameterDeadlineAwareStreams is a protocol violation (see
// featureNotNegotiatedError).
const (
	FrameTypeDeadlineControl    uint64 = 0x3c3b00
	FrameTypeStreamDataDropped  uint64 = 0x3c3b01
)

// FrameKind distinguishes the two outbound frame shapes queued by the
// connection and stream machinery for the host to serialize.
type FrameKind int

const (
	// FrameDeadlineControl informs the peer of a newly-set stream deadline.
	FrameDeadlineControl FrameKind = iota
	// FrameStreamDataDropped informs the peer that a byte range will never arrive.
	FrameStreamDataDropped
)

// OutboundFrame is a control or drop frame the core has decided to
// emit; the host is responsible for reliably (re)transmitting it,
// exactly like any other QUIC control frame.
type OutboundFrame struct {
	Kind       FrameKind
	StreamID   uint64
	DeadlineMS uint64 // set for FrameDeadlineControl
	Offset     uint64 // set for FrameStreamDataDropped
	Length     uint64 // set for FrameStreamDataDropped
}

// Encode serializes the frame (including its type varint) to w.
func (f OutboundFrame) Encode(w *bytes.Buffer) {
	switch f.Kind {
	case FrameDeadlineControl:
		quicvarint.Write(w, FrameTypeDeadlineControl)
		quicvarint.Write(w, f.StreamID)
		quicvarint.Write(w, f.DeadlineMS)
	case FrameStreamDataDropped:
		quicvarint.Write(w, FrameTypeStreamDataDropped)
		quicvarint.Write(w, f.StreamID)
		quicvarint.Write(w, f.Offset)
		quicvarint.Write(w, f.Length)
	}
}

// DecodeFrame reads one DEADLINE_CONTROL or STREAM_DATA_DROPPED frame
// (type varint already consumed by the caller and passed as
// frameType) from r. negotiated must reflect whether both endpoints
// advertised TransportParameterDeadlineAwareStreams; if not, decoding
// fails with ErrFeatureNotNegotiated without reading the body, mirroring
// "receiving them closes the connection with a frame-format error".
func DecodeFrame(r io.ByteReader, frameType uint64, negotiated bool) (OutboundFrame, error) {
	if !negotiated {
		return OutboundFrame{}, featureNotNegotiatedError(frameType)
	}
	switch frameType {
	case FrameTypeDeadlineControl:
		streamID, err := quicvarint.Read(r)
		if err != nil {
			return OutboundFrame{}, frameFormatError(frameType, "stream_id: %v", err)
		}
		deadlineMS, err := quicvarint.Read(r)
		if err != nil {
			return OutboundFrame{}, frameFormatError(frameType, "deadline_ms: %v", err)
		}
		return OutboundFrame{Kind: FrameDeadlineControl, StreamID: streamID, DeadlineMS: deadlineMS}, nil
	case FrameTypeStreamDataDropped:
		streamID, err := quicvarint.Read(r)
		if err != nil {
			return OutboundFrame{}, frameFormatError(frameType, "stream_id: %v", err)
		}
		offset, err := quicvarint.Read(r)
		if err != nil {
			return OutboundFrame{}, frameFormatError(frameType, "offset: %v", err)
		}
		length, err := quicvarint.Read(r)
		if err != nil {
			return OutboundFrame{}, frameFormatError(frameType, "length: %v", err)
		}
		return OutboundFrame{Kind: FrameStreamDataDropped, StreamID: streamID, Offset: offset, Length: length}, nil
	default:
		return OutboundFrame{}, frameFormatError(frameType, "not a deadline-aware-streams frame")
	}
}

// SkipFrame consumes and discards a frame body without surfacing it,
// for hosts that want to validate framing (e.g. during replay) without
// applying the effect.
func SkipFrame(r io.ByteReader, frameType uint64) error {
	var n int
	switch frameType {
	case FrameTypeDeadlineControl:
		n = 2
	case FrameTypeStreamDataDropped:
		n = 3
	default:
		return frameFormatError(frameType, "not a deadline-aware-streams frame")
	}
	for i := 0; i < n; i++ {
		if _, err := quicvarint.Read(r); err != nil {
			return frameFormatError(frameType, "field %d: %v", i, err)
		}
	}
	return nil
}

// ApplyInbound updates connection/stream state for a decoded inbound
// frame: a DEADLINE_CONTROL negotiates the peer's stream deadline, a
// STREAM_DATA_DROPPED records a receiver-side dropped range so C8 can
// surface the gap.
func (c *Connection) ApplyInbound(f OutboundFrame, nowUS int64) {
	switch f.Kind {
	case FrameDeadlineControl:
		s := c.ensureStream(f.StreamID)
		s.DeadlineMS = f.DeadlineMS
		s.AbsoluteDeadlineUS = nowUS + int64(f.DeadlineMS)*1000
		s.Enabled = true
	case FrameStreamDataDropped:
		s := c.ensureStream(f.StreamID)
		s.RecordReceiverDrop(f.Offset, f.Length)
	}
}
