// Package hostconn adapts a real kcp-go/smux transport to the
// deadline-aware scheduling core, standing in for the QUIC transport
// the core itself does not implement. It plays the role client/main.go
// and server/main.go play for plain kcptun: dial or accept a session,
// then pump bytes through it — except here every byte passes through
// deadline.Connection first.
package hostconn

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go/quicvarint"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
	"golang.org/x/time/rate"

	"github.com/tjohn327/deadlineq/deadline"
)

// controlStreamID is the smux stream reserved for exchanging
// DEADLINE_CONTROL and STREAM_DATA_DROPPED frames. Unlike real QUIC,
// smux has no packet-level control-frame channel, so this dedicated
// stream plays that role; its bytes are never handed to
// deadline.Stream.DeliverOrdered.
const controlStreamID = 1

// Conn glues one kcp-go session (carrying one smux session) to a
// deadline.Connection. OpenStream/AcceptStream register deadline
// state for application streams; Tick drives scheduling and expiry;
// ReadLoop/ControlLoop pump inbound bytes and control frames.
type Conn struct {
	Core *deadline.Connection

	kcpConn *kcp.UDPSession
	session *smux.Session
	control *smux.Stream

	mu           sync.Mutex
	streams      map[uint64]*smux.Stream
	recvOffset   map[uint64]uint64
	inFlight     map[uint64]uint64
	connWindow   uint64
	streamWindow uint64

	limiter          *rate.Limiter
	baseRateBytesSec float64
}

// Dial opens a kcp session to addr and multiplexes it with smux as a
// client, mirroring client/main.go's createConn without encryption or
// compression (those remain the host's concern, not this adapter's).
func Dial(addr string, block kcp.BlockCrypt, dataShard, parityShard int, smuxConfig *smux.Config) (*kcp.UDPSession, *smux.Session, error) {
	kcpConn, err := kcp.DialWithOptions(addr, block, dataShard, parityShard)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hostconn.Dial")
	}
	kcpConn.SetStreamMode(true)
	kcpConn.SetWriteDelay(false)

	session, err := smux.Client(kcpConn, smuxConfig)
	if err != nil {
		kcpConn.Close()
		return nil, nil, errors.Wrap(err, "hostconn.Dial: smux.Client")
	}
	return kcpConn, session, nil
}

// Listen opens a kcp listener on addr, mirroring server/main.go's
// listener setup.
func Listen(addr string, block kcp.BlockCrypt, dataShard, parityShard int) (*kcp.Listener, error) {
	l, err := kcp.ListenWithOptions(addr, block, dataShard, parityShard)
	if err != nil {
		return nil, errors.Wrap(err, "hostconn.Listen")
	}
	return l, nil
}

// Accept blocks for the next incoming kcp session and wraps it as a
// smux server.
func Accept(l *kcp.Listener, smuxConfig *smux.Config) (*kcp.UDPSession, *smux.Session, error) {
	kcpConn, err := l.AcceptKCP()
	if err != nil {
		return nil, nil, errors.Wrap(err, "hostconn.Accept")
	}
	kcpConn.SetStreamMode(true)
	kcpConn.SetWriteDelay(false)

	session, err := smux.Server(kcpConn, smuxConfig)
	if err != nil {
		kcpConn.Close()
		return nil, nil, errors.Wrap(err, "hostconn.Accept: smux.Server")
	}
	return kcpConn, session, nil
}

// NewConn wires a live kcp/smux session into deadline-aware
// scheduling. negotiated mirrors whether both peers advertised
// enable_deadline_aware_streams. connWindowBytes/streamWindowBytes
// bound the toy flow-control model Conn presents to the scheduler as
// deadline.FlowControl; baseRateBytesSec seeds the pacer the urgency
// adapter's gain scales.
func NewConn(kcpConn *kcp.UDPSession, session *smux.Session, negotiated bool, connWindowBytes, streamWindowBytes uint64, baseRateBytesSec float64) *Conn {
	return &Conn{
		Core:             deadline.NewConnection(negotiated),
		kcpConn:          kcpConn,
		session:          session,
		streams:          make(map[uint64]*smux.Stream),
		recvOffset:       make(map[uint64]uint64),
		inFlight:         make(map[uint64]uint64),
		connWindow:       connWindowBytes,
		streamWindow:     streamWindowBytes,
		limiter:          rate.NewLimiter(rate.Limit(baseRateBytesSec), int(streamWindowBytes)),
		baseRateBytesSec: baseRateBytesSec,
	}
}

// OpenControlStream opens the dedicated control-frame stream; the
// client side of a session must call this once, immediately after the
// session is established, before opening any application stream.
func (c *Conn) OpenControlStream() error {
	st, err := c.session.OpenStream()
	if err != nil {
		return errors.Wrap(err, "OpenControlStream")
	}
	c.control = st
	return nil
}

// AcceptControlStream is the server-side counterpart of
// OpenControlStream.
func (c *Conn) AcceptControlStream() error {
	st, err := c.session.AcceptStream()
	if err != nil {
		return errors.Wrap(err, "AcceptControlStream")
	}
	c.control = st
	return nil
}

// OpenStream opens a new application smux stream and registers empty
// (no-deadline) state for it; the caller attaches a deadline with
// Core.SetStreamDeadline if and when it wants one.
func (c *Conn) OpenStream() (*smux.Stream, *deadline.Stream, error) {
	st, err := c.session.OpenStream()
	if err != nil {
		return nil, nil, errors.Wrap(err, "OpenStream")
	}
	return c.registerStream(st), c.Core.OpenStream(uint64(st.ID())), nil
}

// AcceptStream waits for the peer to open an application stream.
func (c *Conn) AcceptStream() (*smux.Stream, *deadline.Stream, error) {
	st, err := c.session.AcceptStream()
	if err != nil {
		return nil, nil, errors.Wrap(err, "AcceptStream")
	}
	return c.registerStream(st), c.Core.OpenStream(uint64(st.ID())), nil
}

func (c *Conn) registerStream(st *smux.Stream) *smux.Stream {
	c.mu.Lock()
	c.streams[uint64(st.ID())] = st
	c.mu.Unlock()
	return st
}

func (c *Conn) streamFor(id uint64) *smux.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

// StreamWindowAvailable implements deadline.FlowControl.
func (c *Conn) StreamWindowAvailable(streamID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	used := c.inFlight[streamID]
	if used >= c.streamWindow {
		return 0
	}
	return c.streamWindow - used
}

// ConnectionWindowAvailable implements deadline.FlowControl.
func (c *Conn) ConnectionWindowAvailable() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, v := range c.inFlight {
		total += v
	}
	if total >= c.connWindow {
		return 0
	}
	return c.connWindow - total
}

// StreamIDAllowed implements deadline.FlowControl.
func (c *Conn) StreamIDAllowed(streamID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[streamID]
	return ok
}

// BaseCwnd implements deadline.CongestionHost.
func (c *Conn) BaseCwnd() uint64 { return c.streamWindow }

// BDP implements deadline.CongestionHost, deriving the bandwidth-delay
// product from kcp's smoothed RTT and the configured base rate.
func (c *Conn) BDP() uint64 {
	rttUS := int64(c.kcpConn.GetSRTT()) * 1000
	if rttUS <= 0 {
		return c.streamWindow
	}
	return uint64(c.baseRateBytesSec * float64(rttUS) / 1_000_000)
}

// BasePacingGain implements deadline.CongestionHost. The toy pacer has
// no probe-bw cycle of its own, so its base gain is always 1.
func (c *Conn) BasePacingGain() float64 { return 1.0 }

// InProbeUp implements deadline.CongestionHost; this pacer has no
// probe-up state.
func (c *Conn) InProbeUp() bool { return false }

// Tick runs one scheduling iteration at nowUS: it ages out expired
// deadlines, lets the urgency adapter update the pacer, picks the next
// stream to send on, and writes out one paced segment of its
// head-of-line bytes.
func (c *Conn) Tick(ctx context.Context, nowUS int64) (bool, error) {
	c.Core.RunExpirySweep(nowUS)
	c.Core.Urgency.Recompute(nowUS, c.Core, c)
	c.limiter.SetLimit(rate.Limit(c.baseRateBytesSec * c.Core.Urgency.PacingGain()))

	s, ok := c.Core.SelectStream(nowUS, 0, c)
	if !ok {
		c.flushControlFrames()
		return false, nil
	}

	for _, f := range s.SkipDropped(c.Core, nowUS) {
		log.Printf("stream %d: sender dropped [%d,%d)", f.StreamID, f.Offset, f.Offset+f.Length)
	}

	head, ok := s.HeadChunk()
	if !ok {
		c.flushControlFrames()
		return true, nil
	}

	segment := head.Data
	if uint64(len(segment)) > deadline.MinSegmentSize {
		segment = segment[:deadline.MinSegmentSize]
	}
	if len(segment) == 0 {
		c.flushControlFrames()
		return true, nil
	}

	if err := c.limiter.WaitN(ctx, len(segment)); err != nil {
		return false, errors.Wrap(err, "Tick: pacer wait")
	}

	st := c.streamFor(s.ID)
	if st == nil {
		return false, errors.Errorf("Tick: no transport stream registered for id %d", s.ID)
	}

	n, err := st.Write(segment)
	if err != nil {
		return false, errors.Wrap(err, "Tick: stream write")
	}
	s.Sent(uint64(n))

	c.mu.Lock()
	c.inFlight[s.ID] += uint64(n)
	c.mu.Unlock()

	c.flushControlFrames()
	return true, nil
}

// Acked reports that n previously in-flight bytes on streamID have
// been acknowledged (or otherwise accounted for), freeing flow-control
// budget for future scheduling rounds.
func (c *Conn) Acked(streamID uint64, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[streamID] <= n {
		delete(c.inFlight, streamID)
		return
	}
	c.inFlight[streamID] -= n
}

func (c *Conn) flushControlFrames() {
	if c.control == nil {
		return
	}
	frames := c.Core.TakePendingFrames()
	for _, f := range frames {
		if err := writeFrame(c.control, f); err != nil {
			log.Printf("hostconn: control stream write failed: %v", err)
			return
		}
	}
}

// ControlLoop reads DEADLINE_CONTROL/STREAM_DATA_DROPPED frames off
// the control stream until it closes, applying each to Core. now
// returns the current host clock in microseconds.
func (c *Conn) ControlLoop(now func() int64) error {
	br := newByteReader(c.control)
	for {
		frameType, err := quicvarint.Read(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "ControlLoop")
		}
		f, err := deadline.DecodeFrame(br, frameType, c.Core.Negotiated)
		if err != nil {
			return errors.Wrap(err, "ControlLoop: decode")
		}
		c.Core.ApplyInbound(f, now())
	}
}

// ReadLoop reads inbound bytes for one application stream and feeds
// them through the deadline gap surfacer to r, until the stream
// closes. dstream is the deadline.Stream counterpart returned by
// OpenStream/AcceptStream for the same id.
func (c *Conn) ReadLoop(st *smux.Stream, dstream *deadline.Stream, r deadline.Receiver) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := st.Read(buf)
		if n > 0 {
			id := uint64(st.ID())
			c.mu.Lock()
			offset := c.recvOffset[id]
			c.recvOffset[id] = offset + uint64(n)
			c.mu.Unlock()

			dstream.DeliverOrdered(offset, buf[:n], r)
		}
		if err != nil {
			if err == io.EOF {
				dstream.DeliverFin(r)
				return nil
			}
			return errors.Wrap(err, "ReadLoop")
		}
	}
}

// Close tears down the smux session and underlying kcp connection.
func (c *Conn) Close() error {
	err1 := c.session.Close()
	err2 := c.kcpConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func writeFrame(w io.Writer, f deadline.OutboundFrame) error {
	var buf bytes.Buffer
	f.Encode(&buf)
	_, err := w.Write(buf.Bytes())
	return err
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func newByteReader(r io.Reader) *byteReader { return &byteReader{r: r} }

func (b *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(b.r, b.buf[:])
	return b.buf[0], err
}
