package deadline

// PathID identifies one path of a multipath connection.
type PathID uint32

// PathMetrics is the per-path state the composite scorer (§4.7) reads.
// A host running single-path QUIC never populates more than one
// entry and SelectPath degenerates to returning it.
type PathMetrics struct {
	SmoothedRTTUS        int64
	BandwidthEstimateBPS  uint64 // 0 means "derive from cwnd/rtt"
	CongestionWindow      uint64 // bytes
	BytesInTransit        uint64
	BytesSent             uint64
	BytesLost             uint64
	LastLossEventUS       int64 // 0 means "no recent loss"
	Demoted               bool
}

const minSegmentForCwnd = MinSegmentSize

// availableCwnd returns max(cwin - bytes_in_transit, 0).
func (m PathMetrics) availableCwnd() uint64 {
	if m.BytesInTransit >= m.CongestionWindow {
		return 0
	}
	return m.CongestionWindow - m.BytesInTransit
}

// effectiveBandwidth derives the usable bandwidth for this path,
// scaling the raw estimate by available headroom, or synthesizing an
// estimate from cwnd/RTT when the host has not measured one yet.
func (m PathMetrics) effectiveBandwidth(availableCwnd uint64) float64 {
	bw := float64(m.BandwidthEstimateBPS)
	if bw == 0 && m.SmoothedRTTUS > 0 {
		bw = float64(m.CongestionWindow) * 1_000_000 / float64(m.SmoothedRTTUS)
	}
	if m.CongestionWindow == 0 {
		return 0
	}
	return bw * (float64(availableCwnd) / float64(m.CongestionWindow))
}

// canMeetDeadline estimates delivery time for bytesRemaining over this
// path and reports whether it fits before deadline.
func (m PathMetrics) canMeetDeadline(bytesRemaining uint64, effectiveBW float64, budgetUS int64) bool {
	if effectiveBW <= 0 {
		return false
	}
	estimateUS := float64(m.SmoothedRTTUS) + float64(bytesRemaining)*8*1_000_000/effectiveBW
	return estimateUS < float64(budgetUS)
}

// score computes the composite score for a path per §4.7.
func (m PathMetrics) score(bytesRemaining uint64, nowUS, absoluteDeadlineUS int64) (s float64, meets bool) {
	avail := m.availableCwnd()
	if avail < minSegmentForCwnd {
		return 0, false
	}
	effectiveBW := m.effectiveBandwidth(avail)
	budget := absoluteDeadlineUS - nowUS
	meets = m.canMeetDeadline(bytesRemaining, effectiveBW, budget)

	rttMS := float64(m.SmoothedRTTUS) / 1000
	rttScore := 1000 / (rttMS + 1)

	bwMbps := effectiveBW * 8 / 1_000_000
	bwScore := bwMbps
	if bwScore > 100 {
		bwScore = 100
	}

	lossPenalty := 0.1
	if m.BytesSent > 0 {
		lossPenalty = 1 - 10*(float64(m.BytesLost)/float64(m.BytesSent))
		if lossPenalty < 0.1 {
			lossPenalty = 0.1
		}
	}

	congestionScore := float64(avail) / float64(m.CongestionWindow)

	composite := 0.3*rttScore + 0.3*bwScore + 0.2*lossPenalty + 0.2*congestionScore

	if m.LastLossEventUS != 0 && nowUS-m.LastLossEventUS < 10*m.SmoothedRTTUS {
		composite *= 0.5
	}

	if meets {
		composite *= 2.0
	} else {
		composite *= 1.0
	}
	return composite, meets
}

// SelectPath scores every non-demoted, RTT-initialised path for the
// given stream's remaining bytes and deadline, returning the
// highest-scoring path that can meet the deadline. If no path can
// meet it at all, it falls back to the path with the lowest smoothed
// RTT among non-demoted paths. ok is false only when there is no
// usable path at all.
func (c *Connection) SelectPath(s *Stream, bytesRemaining uint64, nowUS int64) (PathID, bool) {
	var (
		bestMeeting    PathID
		bestMeetingOK  bool
		bestScore      float64
		fallback       PathID
		fallbackOK     bool
		fallbackRTT    int64
	)

	for path, m := range c.paths {
		if m.Demoted || m.SmoothedRTTUS <= 0 {
			continue
		}
		if !fallbackOK || m.SmoothedRTTUS < fallbackRTT {
			fallback = path
			fallbackRTT = m.SmoothedRTTUS
			fallbackOK = true
		}

		score, meets := m.score(bytesRemaining, nowUS, s.AbsoluteDeadlineUS)
		if meets && (!bestMeetingOK || score > bestScore) {
			bestMeeting = path
			bestScore = score
			bestMeetingOK = true
		}
	}

	if bestMeetingOK {
		return bestMeeting, true
	}
	return fallback, fallbackOK
}
