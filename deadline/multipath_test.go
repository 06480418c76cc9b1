package deadline

import "testing"

func TestSelectPathPrefersPathThatMeetsDeadline(t *testing.T) {
	conn := NewConnection(true)
	conn.EnableMultipath()

	s, _ := conn.SetStreamDeadline(4, 1, Hard, 0) // 1ms deadline: only the fast path can meet it

	conn.SetPathMetrics(1, PathMetrics{
		SmoothedRTTUS:    50_000, // slow, 50ms RTT
		CongestionWindow: 1_000_000,
		BandwidthEstimateBPS: 1_000_000,
	})
	conn.SetPathMetrics(2, PathMetrics{
		SmoothedRTTUS:    500, // fast, 0.5ms RTT
		CongestionWindow: 1_000_000,
		BandwidthEstimateBPS: 100_000_000,
	})

	got, ok := conn.SelectPath(s, 1000, 0)
	if !ok {
		t.Fatalf("expected a path to be selected")
	}
	if got != 2 {
		t.Fatalf("expected fast path 2 to be chosen, got %d", got)
	}
}

func TestSelectPathFallsBackToLowestRTTWhenNoneMeetsDeadline(t *testing.T) {
	conn := NewConnection(true)
	conn.EnableMultipath()

	s, _ := conn.SetStreamDeadline(4, 0, Hard, 0) // deadline already in the past

	conn.SetPathMetrics(1, PathMetrics{SmoothedRTTUS: 50_000, CongestionWindow: 1_000_000, BandwidthEstimateBPS: 1_000_000})
	conn.SetPathMetrics(2, PathMetrics{SmoothedRTTUS: 10_000, CongestionWindow: 1_000_000, BandwidthEstimateBPS: 1_000_000})

	got, ok := conn.SelectPath(s, 1_000_000, 0)
	if !ok {
		t.Fatalf("expected a fallback path")
	}
	if got != 2 {
		t.Fatalf("expected lowest-RTT fallback path 2, got %d", got)
	}
}

func TestSelectPathSkipsDemotedPaths(t *testing.T) {
	conn := NewConnection(true)
	conn.EnableMultipath()

	s, _ := conn.SetStreamDeadline(4, 1000, Soft, 0)

	conn.SetPathMetrics(1, PathMetrics{SmoothedRTTUS: 1000, CongestionWindow: 1_000_000, BandwidthEstimateBPS: 100_000_000, Demoted: true})
	conn.SetPathMetrics(2, PathMetrics{SmoothedRTTUS: 20_000, CongestionWindow: 1_000_000, BandwidthEstimateBPS: 1_000_000})

	got, ok := conn.SelectPath(s, 1000, 0)
	if !ok || got != 2 {
		t.Fatalf("expected demoted path 1 skipped in favour of path 2, got %d ok=%v", got, ok)
	}
}

func TestSelectPathNoUsablePathReturnsFalse(t *testing.T) {
	conn := NewConnection(true)
	conn.EnableMultipath()
	s, _ := conn.SetStreamDeadline(4, 1000, Soft, 0)

	if _, ok := conn.SelectPath(s, 1000, 0); ok {
		t.Fatalf("expected no usable path when none are registered")
	}
}

func TestPathMetricsAvailableCwnd(t *testing.T) {
	m := PathMetrics{CongestionWindow: 1000, BytesInTransit: 1500}
	if got := m.availableCwnd(); got != 0 {
		t.Fatalf("expected 0 available cwnd when in-transit exceeds cwnd, got %d", got)
	}

	m2 := PathMetrics{CongestionWindow: 1000, BytesInTransit: 400}
	if got := m2.availableCwnd(); got != 600 {
		t.Fatalf("expected 600 available cwnd, got %d", got)
	}
}
