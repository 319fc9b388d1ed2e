package period

import (
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAnchoredContains(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    Anchored
		at   string
		want bool
	}{
		{"day inside", Must(Day.Between("10:00", "11:00")), "2024-01-01 10:30:00", true},
		{"day left edge", Must(Day.Between("10:00", "11:00")), "2024-01-01 10:00:00", true},
		{"day right edge open", Must(Day.Between("10:00", "11:00")), "2024-01-01 11:00:00", false},
		{"day wrap late", Must(Day.Between("22:00", "02:00")), "2024-01-01 23:00:00", true},
		{"day wrap early", Must(Day.Between("22:00", "02:00")), "2024-01-01 01:00:00", true},
		{"day wrap outside", Must(Day.Between("22:00", "02:00")), "2024-01-01 12:00:00", false},
		{"week on tuesday", Must(Week.On("Tuesday")), "2024-01-02 10:00:00", true},
		{"week on tuesday monday", Must(Week.On("Tue")), "2024-01-01 23:59:59", false},
		{"week between includes end day", Must(Week.Between("Mon", "Fri")), "2024-01-05 23:00:00", true},
		{"week between weekend", Must(Week.Between("Mon", "Fri")), "2024-01-06 01:00:00", false},
		{"month ordinal", Must(Month.Between("1st", "3rd")), "2024-02-03 12:00:00", true},
		{"month ordinal outside", Must(Month.Between("1st", "3rd")), "2024-02-04 00:00:00", false},
		{"year month", Must(Year.On("Feb")), "2024-02-29 12:00:00", true},
		{"year month outside", Must(Year.On("Feb")), "2024-03-01 00:00:00", false},
		{"hour after", Must(Hour.After("45")), "2024-01-01 03:50:00", true},
		{"hour before", Must(Hour.Before("15")), "2024-01-01 03:50:00", false},
		{"minute on", Must(Minute.On("30")), "2024-01-01 03:50:30", true},
		{"full day", Day.Full(), "2024-01-01 03:50:30", true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.p.Contains(at(tc.at)); got != tc.want {
				t.Fatalf("Contains(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestAnchoredRollback(t *testing.T) {
	t.Parallel()

	p := Must(Day.Between("10:00", "11:00"))

	got := p.Rollback(at("2024-01-01 10:30:00"))
	if !got.Left.Equal(at("2024-01-01 10:00:00")) || !got.Right.Equal(at("2024-01-01 10:30:00")) {
		t.Fatalf("Rollback inside = %s", got)
	}

	got = p.Rollback(at("2024-01-01 12:00:00"))
	if !got.Left.Equal(at("2024-01-01 10:00:00")) || !got.Right.Equal(at("2024-01-01 11:00:00")) {
		t.Fatalf("Rollback after = %s", got)
	}

	got = p.Rollback(at("2024-01-01 09:00:00"))
	if !got.Left.Equal(at("2023-12-31 10:00:00")) || !got.Right.Equal(at("2023-12-31 11:00:00")) {
		t.Fatalf("Rollback before = %s", got)
	}
}

func TestAnchoredRollforward(t *testing.T) {
	t.Parallel()

	p := Must(Day.Between("22:00", "02:00"))

	got := p.Rollforward(at("2024-01-01 12:00:00"))
	if !got.Left.Equal(at("2024-01-01 22:00:00")) || !got.Right.Equal(at("2024-01-02 02:00:00")) {
		t.Fatalf("Rollforward outside = %s", got)
	}

	got = p.Rollforward(at("2024-01-02 01:00:00"))
	if !got.Left.Equal(at("2024-01-02 01:00:00")) || !got.Right.Equal(at("2024-01-02 02:00:00")) {
		t.Fatalf("Rollforward inside = %s", got)
	}
}

func TestAnchoredClosure(t *testing.T) {
	t.Parallel()

	periods := []Anchored{
		Must(Day.Between("10:00", "11:00")),
		Must(Day.Between("22:00", "02:00")),
		Must(Day.Starting("10:00")),
		Must(Week.Between("Fri", "Mon")),
		Must(Month.Between("15th", "2nd")),
		Must(Year.Between("Nov", "Feb")),
		Must(Hour.On("30")),
		Day.Full(),
	}
	start := at("2024-01-01 00:00:00")
	for _, p := range periods {
		for i := 0; i < 24*40; i++ {
			ts := start.Add(time.Duration(i)*47*time.Minute + 13*time.Second)
			in := p.Contains(ts)
			fwd := p.Rollforward(ts)
			if in != fwd.Contains(ts) {
				t.Fatalf("%s at %s: Contains = %v, Rollforward %s disagrees", p, ts, in, fwd)
			}
			back := p.Rollback(ts)
			if back.Right.After(ts) {
				t.Fatalf("%s at %s: Rollback right %s after t", p, ts, back.Right)
			}
		}
	}
}

func TestAnchoredNextEdges(t *testing.T) {
	t.Parallel()

	p := Must(Day.Between("10:00", "11:00"))
	now := at("2024-01-01 10:30:00")
	if got := p.NextStart(now); !got.Equal(at("2024-01-02 10:00:00")) {
		t.Fatalf("NextStart = %s", got)
	}
	if got := p.NextEnd(now); !got.Equal(at("2024-01-01 11:00:00")) {
		t.Fatalf("NextEnd = %s", got)
	}
}

func TestAnchoredTimezone(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+12", 12*3600)
	now := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC).In(loc)
	if !Must(Week.On("Tuesday")).Contains(now) {
		t.Fatalf("expected %s to be a Tuesday in %s", now, loc)
	}
	if Must(Week.On("Monday")).Contains(now) {
		t.Fatalf("did not expect %s to be a Monday", now)
	}
}

func TestAnchorErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fn   func() (Anchored, error)
	}{
		{"bad clock", func() (Anchored, error) { return Day.Between("25:00", "26:00") }},
		{"bad weekday", func() (Anchored, error) { return Week.On("Funday") }},
		{"bad ordinal", func() (Anchored, error) { return Month.On("32nd") }},
		{"bad month", func() (Anchored, error) { return Year.On("Smarch") }},
		{"empty before", func() (Anchored, error) { return Day.Before("00:00") }},
		{"empty", func() (Anchored, error) { return Day.On("") }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tc.fn(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
