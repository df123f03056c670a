package timestamp

import (
	"testing"
	"time"
)

var (
	callStart   = time.Date(2026, 3, 9, 14, 5, 0, 250000000, time.UTC)
	callStartMs = callStart.UnixMilli()
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	ts := Now()
	after := time.Now().UnixMilli()

	if ts < before || ts > after {
		t.Errorf("Now() = %d, expected between %d and %d", ts, before, after)
	}
}

func TestToUnixMs(t *testing.T) {
	if got := ToUnixMs(callStart); got != callStartMs {
		t.Errorf("ToUnixMs(%v) = %d, want %d", callStart, got, callStartMs)
	}
	if got := ToUnixMs(time.Time{}); got != 0 {
		t.Errorf("ToUnixMs(zero time) = %d, want 0", got)
	}
}

func TestToTime(t *testing.T) {
	got := ToTime(callStartMs)
	if !got.Equal(callStart) {
		t.Errorf("ToTime(%d) = %v, want %v", callStartMs, got, callStart)
	}
	if got := ToTime(0); !got.IsZero() {
		t.Errorf("ToTime(0) = %v, want zero time", got)
	}
}

func TestRoundTrip(t *testing.T) {
	ms := Now()
	if got := ToUnixMs(ToTime(ms)); got != ms {
		t.Errorf("round trip changed %d to %d", ms, got)
	}
}

func TestBetween(t *testing.T) {
	answered := callStartMs + 4_000
	ended := callStartMs + 95_500

	tests := []struct {
		name       string
		start, end int64
		want       time.Duration
	}{
		{"call duration", callStartMs, ended, 95500 * time.Millisecond},
		{"talk time", answered, ended, 91500 * time.Millisecond},
		{"never started", 0, ended, 0},
		{"still up", callStartMs, 0, 0},
		{"both unset", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Between(tt.start, tt.end); got != tt.want {
				t.Errorf("Between(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	if got := Sub(callStartMs, time.Minute); got != callStartMs-60_000 {
		t.Errorf("Sub() = %d, want %d", got, callStartMs-60_000)
	}
	if got := Sub(0, time.Hour); got != 0 {
		t.Errorf("Sub(0, 1h) = %d, want 0", got)
	}
}
