package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestClockToday(t *testing.T) {
	t.Parallel()

	today := New().Today()
	if h, m, s := today.Clock(); h != 0 || m != 0 || s != 0 || today.Nanosecond() != 0 {
		t.Fatalf("expected midnight, got %v", today)
	}
	if age := time.Since(today); age < 0 || age >= 24*time.Hour+time.Second {
		t.Fatalf("expected today's midnight, got %v", today)
	}
}
