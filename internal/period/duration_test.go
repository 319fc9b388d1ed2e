package period

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "10 minutes", want: 10 * time.Minute},
		{in: "1 hour 30 minutes", want: 90 * time.Minute},
		{in: "1 hour and 30 minutes", want: 90 * time.Minute},
		{in: "2 days", want: 48 * time.Hour},
		{in: "hour", want: time.Hour},
		{in: "1.5 hours", want: 90 * time.Minute},
		{in: "500 ms", want: 500 * time.Millisecond},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "02:30", want: 150 * time.Minute},
		{in: "1 week", want: 7 * 24 * time.Hour},
		{in: "", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "10 fortnights", wantErr: true},
		{in: "-5m", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDuration(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration(%q) expected error, got %v", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
