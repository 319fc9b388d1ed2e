package period

import (
	"testing"
	"time"
)

func TestAllIntersects(t *testing.T) {
	t.Parallel()

	p := All(Must(Week.On("Mon")), Must(Day.Between("10:00", "12:00")))
	if _, ok := p.(AllOf); !ok {
		t.Fatalf("All() = %T, want AllOf", p)
	}

	// Wednesday: most recent common occurrence is Monday 10-12.
	got := p.Rollback(at("2024-01-03 11:00:00"))
	if !got.Left.Equal(at("2024-01-01 10:00:00")) || !got.Right.Equal(at("2024-01-01 12:00:00")) {
		t.Fatalf("Rollback = %s", got)
	}

	got = p.Rollforward(at("2024-01-03 11:00:00"))
	if !got.Left.Equal(at("2024-01-08 10:00:00")) || !got.Right.Equal(at("2024-01-08 12:00:00")) {
		t.Fatalf("Rollforward = %s", got)
	}

	if !p.(AllOf).Contains(at("2024-01-01 11:00:00")) {
		t.Fatalf("expected Monday 11:00 to be inside")
	}
}

func TestAnyMergesTouching(t *testing.T) {
	t.Parallel()

	p := Any(Must(Day.Between("08:00", "10:00")), Must(Day.Between("10:00", "12:00")))
	got := p.Rollback(at("2024-01-01 11:00:00"))
	if !got.Left.Equal(at("2024-01-01 08:00:00")) || !got.Right.Equal(at("2024-01-01 11:00:00")) {
		t.Fatalf("Rollback = %s", got)
	}
	got = p.Rollforward(at("2024-01-01 07:00:00"))
	if !got.Left.Equal(at("2024-01-01 08:00:00")) || !got.Right.Equal(at("2024-01-01 12:00:00")) {
		t.Fatalf("Rollforward = %s", got)
	}
}

func TestFlattening(t *testing.T) {
	t.Parallel()

	a, b, c := Day.Full(), Week.Full(), Month.Full()
	p := All(All(a, b), c)
	if n := len(p.(AllOf).Periods); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}
	if All() != Always {
		t.Fatalf("empty All should be Always")
	}
	if Any() != Never {
		t.Fatalf("empty Any should be Never")
	}
}

func TestMembership(t *testing.T) {
	t.Parallel()

	if HasMembership(TimeDelta{Past: time.Hour}) {
		t.Fatalf("deltas must not answer membership")
	}
	if _, err := Contains(TimeDelta{Past: time.Hour}, time.Now()); err == nil {
		t.Fatalf("expected error for delta membership")
	}
	if HasMembership(All(Day.Full(), TimeDelta{Past: time.Hour})) {
		t.Fatalf("composite with a delta must not answer membership")
	}
	if !HasMembership(Any(Day.Full(), Always)) {
		t.Fatalf("composite of anchored periods should answer membership")
	}
}

func TestDeltas(t *testing.T) {
	t.Parallel()

	now := at("2024-01-01 12:00:00")
	d := TimeDelta{Past: time.Hour, Future: 2 * time.Hour}
	if got := d.Rollback(now); !got.Left.Equal(at("2024-01-01 11:00:00")) || !got.Right.Equal(now) {
		t.Fatalf("TimeDelta.Rollback = %s", got)
	}
	if got := d.Rollforward(now); !got.Right.Equal(at("2024-01-01 14:00:00")) {
		t.Fatalf("TimeDelta.Rollforward = %s", got)
	}

	s := TimeSpanDelta{Near: time.Hour, Far: 3 * time.Hour}
	if got := s.Rollback(now); !got.Left.Equal(at("2024-01-01 09:00:00")) || !got.Right.Equal(at("2024-01-01 11:00:00")) {
		t.Fatalf("TimeSpanDelta.Rollback = %s", got)
	}
	if got := s.Rollforward(now); !got.Left.Equal(at("2024-01-01 13:00:00")) || !got.Right.Equal(at("2024-01-01 15:00:00")) {
		t.Fatalf("TimeSpanDelta.Rollforward = %s", got)
	}
}

func TestStatic(t *testing.T) {
	t.Parallel()

	s := Static{Start: at("2024-01-01 10:00:00"), End: at("2024-01-01 11:00:00")}
	if got := s.Rollback(at("2024-01-01 09:00:00")); !got.IsNever() {
		t.Fatalf("Rollback before start = %s, want never", got)
	}
	if got := s.Rollforward(at("2024-01-01 12:00:00")); !got.IsNever() {
		t.Fatalf("Rollforward after end = %s, want never", got)
	}
	if got := s.Rollback(at("2024-01-01 10:30:00")); !got.Right.Equal(at("2024-01-01 10:30:00")) {
		t.Fatalf("Rollback inside = %s", got)
	}
}
