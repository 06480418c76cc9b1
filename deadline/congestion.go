package deadline

import "math"

// UrgencyLevel is the discrete categorisation of "time-to-deadline"
// the congestion-control adapter uses to pick a pacing gain and cwnd
// boost.
type UrgencyLevel int

const (
	UrgencyNone UrgencyLevel = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u UrgencyLevel) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "none"
	}
}

// Congestion-control defaults.
const (
	CongestionCheckIntervalUS = 10_000
	CwndBoostLifetimeUS       = 50_000
	MaxDeadlineShare          = 0.60
	ProbePacingGainCap        = 2.00
)

// CongestionHost is the narrow view of the (external) congestion
// controller the adapter needs: its current base cwnd/BDP/pacing gain
// and whether it is already in a probe-up phase. The controller
// itself — BBR, Cubic, whatever the host runs — is out of scope; this
// package only tells it how to adjust its outputs.
type CongestionHost interface {
	BaseCwnd() uint64
	BDP() uint64
	BasePacingGain() float64
	InProbeUp() bool
}

// UrgencyAdapter tracks BBR-style urgency state and the
// fairness-capped gain/boost it produces, per §4.8.
type UrgencyAdapter struct {
	level              UrgencyLevel
	nextRecomputeUS    int64
	earliestDeadlineUS int64
	hasDeadline        bool

	pacingGain float64

	cwndBoostTarget   uint64
	cwndBoostExpiryUS int64

	boostWindowStarted bool // true once boostWindowStartUS carries a real clock reading
	boostWindowStartUS int64
	boostedBytesSent   uint64
	totalBytesSent     uint64
	lastObservedShare  float64
}

func newUrgencyAdapter() *UrgencyAdapter {
	return &UrgencyAdapter{pacingGain: 1.0}
}

// Level returns the urgency level computed by the last Recompute.
func (u *UrgencyAdapter) Level() UrgencyLevel { return u.level }

// PacingGain returns the fairness-capped pacing gain multiplier
// computed by the last Recompute, already multiplied onto the host's
// base gain and capped at ProbePacingGainCap. When no stream has an
// active deadline it is the host's base gain as reported, uncapped.
func (u *UrgencyAdapter) PacingGain() float64 { return u.pacingGain }

// CwndBoost reports the transient target cwnd and whether a boost is
// currently active (it expires CwndBoostLifetimeUS after being set).
func (u *UrgencyAdapter) CwndBoost(nowUS int64) (target uint64, active bool) {
	if u.cwndBoostTarget == 0 || nowUS >= u.cwndBoostExpiryUS {
		return 0, false
	}
	return u.cwndBoostTarget, true
}

// SkipProbeDown reports whether the controller should skip entering a
// probe-down state given the current urgency.
func (u *UrgencyAdapter) SkipProbeDown() bool {
	return u.level == UrgencyHigh || u.level == UrgencyCritical
}

// ExitProbeQuickly reports whether the controller should cut short
// any in-progress probe state.
func (u *UrgencyAdapter) ExitProbeQuickly() bool {
	return u.level == UrgencyCritical
}

// RecordSentBytes feeds the adapter's own 100ms fairness window,
// separate from the scheduler's: boosted bytes are those sent while a
// cwnd boost or elevated pacing gain was active.
func (u *UrgencyAdapter) RecordSentBytes(n uint64, boosted bool, nowUS int64) {
	u.observeShare(nowUS)
	u.totalBytesSent += n
	if boosted {
		u.boostedBytesSent += n
	}
}

func (u *UrgencyAdapter) observeShare(nowUS int64) float64 {
	if !u.boostWindowStarted {
		u.boostWindowStarted = true
		u.boostWindowStartUS = nowUS
	}
	if nowUS-u.boostWindowStartUS >= FairnessWindowUS {
		share := 0.0
		if u.totalBytesSent > 0 {
			share = float64(u.boostedBytesSent) / float64(u.totalBytesSent)
		}
		u.lastObservedShare = share
		u.boostWindowStartUS = nowUS
		u.boostedBytesSent = 0
		u.totalBytesSent = 0
	}
	return u.lastObservedShare
}

// Recompute re-evaluates urgency from the earliest active deadline
// across conn's streams, at most once every CongestionCheckIntervalUS.
// It updates PacingGain/CwndBoost and returns the (possibly unchanged)
// level.
func (u *UrgencyAdapter) Recompute(nowUS int64, conn *Connection, host CongestionHost) UrgencyLevel {
	if nowUS < u.nextRecomputeUS {
		return u.level
	}
	u.nextRecomputeUS = nowUS + CongestionCheckIntervalUS

	earliest := int64(math.MaxInt64)
	found := false
	conn.ForEachStream(func(s *Stream) bool {
		if s.HasActiveDeadline() {
			if d := s.effectiveDeadlineUS(); !found || d < earliest {
				earliest = d
				found = true
			}
		}
		return true
	})

	if !found {
		u.level = UrgencyNone
		u.hasDeadline = false
		u.pacingGain = host.BasePacingGain()
		u.decayCwndBoost(nowUS)
		return u.level
	}

	u.hasDeadline = true
	u.earliestDeadlineUS = earliest
	ttd := earliest - nowUS

	switch {
	case ttd > 100_000:
		u.level = UrgencyLow
	case ttd > 50_000:
		u.level = UrgencyMedium
	case ttd > 20_000:
		u.level = UrgencyHigh
	default:
		u.level = UrgencyCritical
	}

	u.recomputePacingGain(host)
	u.recomputeCwndBoost(host, nowUS)
	return u.level
}

var gainMultiplier = map[UrgencyLevel]float64{
	UrgencyNone:     1.00,
	UrgencyLow:      1.10,
	UrgencyMedium:   1.25,
	UrgencyHigh:      1.50,
	UrgencyCritical: 2.00,
}

func (u *UrgencyAdapter) recomputePacingGain(host CongestionHost) {
	mult := gainMultiplier[u.level]
	if host.InProbeUp() {
		mult = 1.0
	}

	gain := host.BasePacingGain() * mult

	share := u.lastObservedShare
	if share > MaxDeadlineShare {
		gain = 1 + (gain-1)*(MaxDeadlineShare/share)
	}

	if gain > ProbePacingGainCap {
		gain = ProbePacingGainCap
	}
	u.pacingGain = gain
}

func (u *UrgencyAdapter) recomputeCwndBoost(host CongestionHost, nowUS int64) {
	var factor float64
	switch u.level {
	case UrgencyHigh:
		factor = 1.25
	case UrgencyCritical:
		factor = 1.50
	default:
		u.decayCwndBoost(nowUS)
		return
	}

	target := uint64(float64(host.BaseCwnd()) * factor)
	cap := uint64(float64(host.BDP()) * 1.5)
	if target > cap {
		target = cap
	}
	u.cwndBoostTarget = target
	u.cwndBoostExpiryUS = nowUS + CwndBoostLifetimeUS
}

func (u *UrgencyAdapter) decayCwndBoost(nowUS int64) {
	if u.cwndBoostTarget != 0 && nowUS >= u.cwndBoostExpiryUS {
		u.cwndBoostTarget = 0
	}
}
