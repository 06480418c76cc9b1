package deadline

import (
	"bytes"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
)

func TestOutboundFrameEncodeDecodeRoundTripDeadlineControl(t *testing.T) {
	f := OutboundFrame{Kind: FrameDeadlineControl, StreamID: 4, DeadlineMS: 250}

	var buf bytes.Buffer
	f.Encode(&buf)

	frameType, err := readFrameType(t, &buf)
	if err != nil {
		t.Fatalf("unexpected error reading frame type: %v", err)
	}
	if frameType != FrameTypeDeadlineControl {
		t.Fatalf("expected DEADLINE_CONTROL frame type, got %#x", frameType)
	}

	got, err := DecodeFrame(&buf, frameType, true)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got != f {
		t.Fatalf("round trip mismatch: sent %+v, got %+v", f, got)
	}
}

func TestOutboundFrameEncodeDecodeRoundTripStreamDataDropped(t *testing.T) {
	f := OutboundFrame{Kind: FrameStreamDataDropped, StreamID: 8, Offset: 1000, Length: 42}

	var buf bytes.Buffer
	f.Encode(&buf)

	frameType, err := readFrameType(t, &buf)
	if err != nil {
		t.Fatalf("unexpected error reading frame type: %v", err)
	}

	got, err := DecodeFrame(&buf, frameType, true)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got != f {
		t.Fatalf("round trip mismatch: sent %+v, got %+v", f, got)
	}
}

func TestDecodeFrameRejectsWithoutNegotiation(t *testing.T) {
	f := OutboundFrame{Kind: FrameDeadlineControl, StreamID: 4, DeadlineMS: 10}
	var buf bytes.Buffer
	f.Encode(&buf)

	frameType, err := readFrameType(t, &buf)
	if err != nil {
		t.Fatalf("unexpected error reading frame type: %v", err)
	}

	_, err = DecodeFrame(&buf, frameType, false)
	if err == nil {
		t.Fatalf("expected error decoding a deadline frame without negotiation")
	}
	derr, ok := err.(*Error)
	if !ok || derr.Kind != ErrFeatureNotNegotiated {
		t.Fatalf("expected ErrFeatureNotNegotiated, got %v", err)
	}
}

func TestDecodeFrameRejectsUnknownFrameType(t *testing.T) {
	var buf bytes.Buffer
	_, err := DecodeFrame(&buf, 0x1234, true)
	if err == nil {
		t.Fatalf("expected error for unknown frame type")
	}
	derr, ok := err.(*Error)
	if !ok || derr.Kind != ErrFrameFormat {
		t.Fatalf("expected ErrFrameFormat, got %v", err)
	}
}

func TestApplyInboundDeadlineControlEnablesStream(t *testing.T) {
	conn := NewConnection(true)
	conn.ApplyInbound(OutboundFrame{Kind: FrameDeadlineControl, StreamID: 4, DeadlineMS: 100}, 0)

	s, ok := conn.Stream(4)
	if !ok || !s.HasActiveDeadline() {
		t.Fatalf("expected inbound DEADLINE_CONTROL to enable a deadline on stream 4")
	}
	if s.AbsoluteDeadlineUS != 100_000 {
		t.Fatalf("expected absolute deadline 100000us, got %d", s.AbsoluteDeadlineUS)
	}
}

func TestApplyInboundStreamDataDroppedRecordsGap(t *testing.T) {
	conn := NewConnection(true)
	conn.ApplyInbound(OutboundFrame{Kind: FrameStreamDataDropped, StreamID: 4, Offset: 10, Length: 5}, 0)

	s, ok := conn.Stream(4)
	if !ok {
		t.Fatalf("expected stream state created on inbound drop frame")
	}
	if !s.ReceiverDropped.Contains(12) {
		t.Fatalf("expected receiver-dropped range to include offset 12")
	}
}

func readFrameType(t *testing.T, buf *bytes.Buffer) (uint64, error) {
	t.Helper()
	return quicvarint.Read(buf)
}
