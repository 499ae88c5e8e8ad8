package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	var c RealClock
	before := time.Now()
	got := c.Now()
	if got.Before(before) {
		t.Errorf("RealClock.Now() = %v, earlier than %v", got, before)
	}
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("RealClock ticker never fired")
	}
}

func TestUnixMillis(t *testing.T) {
	ts := time.Unix(1, 500*int64(time.Millisecond))
	if got := UnixMillis(ts); got != 1500 {
		t.Errorf("UnixMillis = %v, want 1500", got)
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(start)
	tk := c.NewTicker(10 * time.Millisecond)
	defer tk.Stop()

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its interval")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case got := <-tk.C():
		if want := start.Add(10 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}
}

func TestMockClock_StoppedTickerIsSilent(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Millisecond)
	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_AdvanceMovesNow(t *testing.T) {
	c := NewMockClock(time.Unix(4, 0))
	c.Advance(6 * time.Second)
	if got := c.Now(); !got.Equal(time.Unix(10, 0)) {
		t.Errorf("Now = %v, want %v", got, time.Unix(10, 0))
	}
}

func TestMockTicker_DropsUnreadTicks(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	c.Advance(time.Second)
	c.Advance(time.Second)
	if got := <-tk.C(); !got.Equal(time.Unix(1, 0)) {
		t.Errorf("first tick = %v, want %v", got, time.Unix(1, 0))
	}
	select {
	case got := <-tk.C():
		t.Fatalf("unexpected buffered tick %v", got)
	default:
	}
}
