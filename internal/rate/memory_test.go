package rate

import (
	"testing"
	"time"
)

func TestAllowEnforcesLimitPerKey(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 3; i++ {
		if !l.Allow("a", 3, time.Minute) {
			t.Fatalf("request %d denied under limit", i)
		}
	}
	if l.Allow("a", 3, time.Minute) {
		t.Fatal("fourth request allowed over limit")
	}
	// Other keys keep their own budget.
	if !l.Allow("b", 3, time.Minute) {
		t.Fatal("separate key denied")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l := NewLimiter()
	if !l.Allow("a", 1, 10*time.Millisecond) {
		t.Fatal("first request denied")
	}
	if l.Allow("a", 1, 10*time.Millisecond) {
		t.Fatal("second request allowed in window")
	}
	time.Sleep(15 * time.Millisecond)
	if !l.Allow("a", 1, 10*time.Millisecond) {
		t.Fatal("request denied after window reset")
	}
}
