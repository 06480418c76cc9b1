package deadline

import "testing"

func TestSetStreamDeadlineRejectsReservedStreamID(t *testing.T) {
	conn := NewConnection(true)

	_, err := conn.SetStreamDeadline(0, 100, Hard, 0)
	if err == nil {
		t.Fatalf("expected error for reserved stream id 0")
	}
	derr, ok := err.(*Error)
	if !ok || derr.Kind != ErrInvalidStreamID {
		t.Fatalf("expected ErrInvalidStreamID, got %v", err)
	}
}

func TestSetStreamDeadlineQueuesControlFrameOnceWhenNegotiated(t *testing.T) {
	conn := NewConnection(true)

	if _, err := conn.SetStreamDeadline(4, 500, Hard, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := conn.SetStreamDeadline(4, 700, Hard, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := conn.TakePendingFrames()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one DEADLINE_CONTROL frame queued, got %d", len(frames))
	}
	if frames[0].Kind != FrameDeadlineControl || frames[0].DeadlineMS != 500 {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
}

func TestSetStreamDeadlineWithoutNegotiationNeverQueuesFrames(t *testing.T) {
	conn := NewConnection(false)

	if _, err := conn.SetStreamDeadline(4, 500, Hard, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if frames := conn.TakePendingFrames(); len(frames) != 0 {
		t.Fatalf("expected no frames queued without negotiation, got %d", len(frames))
	}
}

func TestRemoveStreamDropsState(t *testing.T) {
	conn := NewConnection(true)
	conn.ensureStream(4)

	conn.RemoveStream(4)
	if _, ok := conn.Stream(4); ok {
		t.Fatalf("expected stream state to be gone after RemoveStream")
	}
}

func TestEvaluateFairnessForcesNonDeadlinePickBelowFloor(t *testing.T) {
	conn := NewConnection(true)
	conn.SetFairnessParams(0.5, DefaultMaxStarvationUS)

	conn.fairnessStarted = true
	conn.fairnessWindowStartUS = 0
	conn.lastNonDeadlineSentUS = 0
	conn.deadlineBytesSent = 900
	conn.nonDeadlineBytesSent = 100

	force := conn.evaluateFairness(FairnessWindowUS + 1)
	if !force {
		t.Fatalf("expected share below floor to force a non-deadline pick")
	}
	// Window should have rolled over too, since it has also elapsed.
	if conn.deadlineBytesSent != 0 || conn.nonDeadlineBytesSent != 0 {
		t.Fatalf("expected byte counters reset after window roll")
	}
}

func TestEvaluateFairnessForcesContinuouslyWithinWindow(t *testing.T) {
	conn := NewConnection(true)
	conn.SetFairnessParams(0.5, DefaultMaxStarvationUS)

	conn.fairnessStarted = true
	conn.fairnessWindowStartUS = 0
	conn.lastNonDeadlineSentUS = 0
	conn.deadlineBytesSent = 900
	conn.nonDeadlineBytesSent = 100

	// Well within the window, but the running share (0.1) is already
	// below the 0.5 floor: the floor must bite before the window ever
	// elapses, not only in retrospect at the boundary.
	if force := conn.evaluateFairness(1000); !force {
		t.Fatalf("expected running share below floor to force a pick mid-window")
	}
	if conn.deadlineBytesSent != 900 || conn.nonDeadlineBytesSent != 100 {
		t.Fatalf("expected byte counters untouched mid-window, got %d/%d", conn.deadlineBytesSent, conn.nonDeadlineBytesSent)
	}
}

func TestEvaluateFairnessForcesOnStarvationTimeout(t *testing.T) {
	conn := NewConnection(true)
	conn.fairnessStarted = true
	conn.lastNonDeadlineSentUS = 1000
	conn.maxStarvationUS = 50_000

	if force := conn.evaluateFairness(1000 + 50_001); !force {
		t.Fatalf("expected anti-starvation timer to force a pick")
	}
}

func TestEvaluateFairnessStarvationBaselineSetOnFirstCall(t *testing.T) {
	conn := NewConnection(true)
	conn.SetFairnessParams(0, DefaultMaxStarvationUS) // disable the share floor to isolate starvation behavior

	// A stream that has never been scheduled must not be treated as
	// "just sent": the very first call establishes the baseline, so it
	// must not immediately report starvation.
	if force := conn.evaluateFairness(0); force {
		t.Fatalf("expected no starvation force on the first call establishing the baseline")
	}
	if force := conn.evaluateFairness(DefaultMaxStarvationUS + 1); !force {
		t.Fatalf("expected starvation to be forced once maxStarvationUS has elapsed since the baseline")
	}
}

func TestSetFairnessParamsClampsShare(t *testing.T) {
	conn := NewConnection(true)

	conn.SetFairnessParams(-1, 1000)
	if conn.minNonDeadlineShare != 0 {
		t.Fatalf("expected negative share clamped to 0, got %v", conn.minNonDeadlineShare)
	}

	conn.SetFairnessParams(2, 1000)
	if conn.minNonDeadlineShare != 1 {
		t.Fatalf("expected share above 1 clamped to 1, got %v", conn.minNonDeadlineShare)
	}

	conn.SetFairnessParams(0.3, -5)
	if conn.maxStarvationUS != 1000 {
		t.Fatalf("expected non-positive maxStarvationUS ignored, got %v", conn.maxStarvationUS)
	}
}

func TestPathMetricsBoundedToMaxCachedPaths(t *testing.T) {
	conn := NewConnection(true)
	for i := 0; i < MaxCachedPaths+5; i++ {
		conn.SetPathMetrics(PathID(i), PathMetrics{SmoothedRTTUS: 10_000, CongestionWindow: 10_000})
	}
	if len(conn.Paths()) != MaxCachedPaths {
		t.Fatalf("expected path cache bounded to %d, got %d", MaxCachedPaths, len(conn.Paths()))
	}
}
