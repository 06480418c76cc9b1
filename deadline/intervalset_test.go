package deadline

import "testing"

func TestIntervalSetInsertMergesOverlapping(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(10, 20)
	s.Insert(15, 25)

	if s.Len() != 1 {
		t.Fatalf("expected 1 merged range, got %d", s.Len())
	}
	got := s.At(0)
	if got.Start != 10 || got.End != 25 {
		t.Fatalf("unexpected merged range: %+v", got)
	}
}

func TestIntervalSetInsertMergesAdjacent(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(0, 10)
	s.Insert(10, 20)

	if s.Len() != 1 {
		t.Fatalf("expected adjacent ranges to merge, got %d ranges", s.Len())
	}
}

func TestIntervalSetInsertKeepsDisjoint(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(0, 5)
	s.Insert(10, 15)

	if s.Len() != 2 {
		t.Fatalf("expected 2 disjoint ranges, got %d", s.Len())
	}
}

func TestIntervalSetContains(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(100, 200)

	if !s.Contains(150) {
		t.Fatalf("expected 150 to be contained")
	}
	if s.Contains(200) {
		t.Fatalf("end offset is exclusive, must not be contained")
	}
	if s.Contains(99) {
		t.Fatalf("99 is outside the range")
	}
}

func TestIntervalSetFirstOverlap(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(50, 60)
	s.Insert(100, 110)

	r, ok := s.FirstOverlap(55, 105)
	if !ok || r.Start != 50 || r.End != 60 {
		t.Fatalf("expected first overlap to be [50,60), got %+v ok=%v", r, ok)
	}

	if _, ok := s.FirstOverlap(200, 210); ok {
		t.Fatalf("expected no overlap past recorded ranges")
	}
}

func TestIntervalSetTotalBytes(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(0, 10)
	s.Insert(20, 25)

	if got := s.TotalBytes(); got != 15 {
		t.Fatalf("expected 15 total bytes, got %d", got)
	}
}

func TestIntervalSetInsertNoOpOnEmptyOrInverted(t *testing.T) {
	s := NewIntervalSet()
	s.Insert(10, 10)
	s.Insert(20, 5)

	if s.Len() != 0 {
		t.Fatalf("expected no ranges recorded, got %d", s.Len())
	}
}
