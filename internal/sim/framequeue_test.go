package sim

import "testing"

func TestFrameQueueStagesAndDrainsSorted(t *testing.T) {
	queue := NewFrameQueue(16, nil)
	frames := []InputFrame{
		{PlayerID: "zeta", Tick: 5},
		{PlayerID: "alpha", Tick: 5},
		{PlayerID: "mid", Tick: 5},
	}
	for _, frame := range frames {
		if ok, reason := queue.Stage(frame, 4); !ok {
			t.Fatalf("expected stage to succeed for %s, got %s", frame.PlayerID, reason)
		}
	}
	drained := queue.Drain(5)
	if len(drained) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(drained))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if drained[i].PlayerID != want {
			t.Fatalf("expected sorted order, got %s at %d", drained[i].PlayerID, i)
		}
	}
	if queue.Pending() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", queue.Pending())
	}
}

func TestFrameQueueDropsStaleFrames(t *testing.T) {
	queue := NewFrameQueue(16, nil)
	ok, reason := queue.Stage(InputFrame{PlayerID: "a", Tick: 3}, 3)
	if ok || reason != RejectStaleInput {
		t.Fatalf("expected stale rejection, got ok=%v reason=%s", ok, reason)
	}
	if queue.StaleDrops("a") != 1 {
		t.Fatalf("expected one recorded stale drop, got %d", queue.StaleDrops("a"))
	}
}

func TestFrameQueueRejectsDuplicates(t *testing.T) {
	queue := NewFrameQueue(16, nil)
	if ok, _ := queue.Stage(InputFrame{PlayerID: "a", Tick: 5}, 4); !ok {
		t.Fatalf("expected first stage to succeed")
	}
	ok, reason := queue.Stage(InputFrame{PlayerID: "a", Tick: 5}, 4)
	if ok || reason != RejectDuplicateFrame {
		t.Fatalf("expected duplicate rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestFrameQueueBuffersFutureTicks(t *testing.T) {
	queue := NewFrameQueue(4, nil)
	if ok, _ := queue.Stage(InputFrame{PlayerID: "a", Tick: 8}, 4); !ok {
		t.Fatalf("expected frame within horizon to be buffered")
	}
	ok, reason := queue.Stage(InputFrame{PlayerID: "a", Tick: 9}, 4)
	if ok || reason != RejectTooFarAhead {
		t.Fatalf("expected horizon rejection, got ok=%v reason=%s", ok, reason)
	}
	if frames := queue.Drain(5); len(frames) != 0 {
		t.Fatalf("expected no frames for tick 5, got %d", len(frames))
	}
	if frames := queue.Drain(8); len(frames) != 1 {
		t.Fatalf("expected the buffered frame for tick 8, got %d", len(frames))
	}
}

func TestFrameQueueDiscardsPassedBuckets(t *testing.T) {
	queue := NewFrameQueue(16, nil)
	queue.Stage(InputFrame{PlayerID: "a", Tick: 5}, 4)
	queue.Stage(InputFrame{PlayerID: "a", Tick: 6}, 4)
	if frames := queue.Drain(7); len(frames) != 0 {
		t.Fatalf("expected draining a later tick to discard earlier buckets")
	}
	if queue.Pending() != 0 {
		t.Fatalf("expected queue emptied, got %d pending", queue.Pending())
	}
}

func TestRNGDeterministic(t *testing.T) {
	a := NewRNG(12345)
	b := NewRNG(12345)
	for i := 0; i < 100; i++ {
		if a.Intn(1000) != b.Intn(1000) {
			t.Fatalf("expected identical draw %d", i)
		}
	}
	if a.Cursor != b.Cursor {
		t.Fatalf("expected identical cursors, got %d vs %d", a.Cursor, b.Cursor)
	}
}
