package perf

import (
	"testing"
	"time"
)

func TestTrackerCountsSlowHandlers(t *testing.T) {
	tr := NewTracker(time.Millisecond)
	done := tr.StartGatewayEvent("MESSAGE_CREATE")
	time.Sleep(3 * time.Millisecond)
	done()
	tr.StartGatewayEvent("TYPING_START")()
	if tr.Slow() != 1 {
		t.Fatalf("expected one slow handler, got %d", tr.Slow())
	}
}

func TestDisabledTracker(t *testing.T) {
	for _, tr := range []*Tracker{nil, NewTracker(0)} {
		tr.StartGatewayEvent("READY")()
		if tr.Slow() != 0 || tr.Threshold() != 0 {
			t.Fatalf("disabled tracker recorded work")
		}
	}
}
