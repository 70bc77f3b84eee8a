package proto

import (
	"encoding/json"
	"testing"
	"time"

	"airlock/server/internal/sim"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Run("defaults version", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"input","t":5,"dx":1}`))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if msg.Ver != Version {
			t.Fatalf("expected version %d, got %d", Version, msg.Ver)
		}
		if msg.Tick != 5 || msg.MoveX != 1 {
			t.Fatalf("unexpected message: %+v", msg)
		}
	})

	t.Run("rejects future version", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"ver":99,"type":"input"}`)); err == nil {
			t.Fatalf("expected future protocol version to be rejected")
		}
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
			t.Fatalf("expected malformed payload to be rejected")
		}
	})
}

func TestInputFrameConversion(t *testing.T) {
	msg := ClientMessage{
		Type:   TypeInput,
		Tick:   12,
		MoveX:  0.5,
		MoveY:  -1,
		Kill:   true,
		Vote:   &VotePayload{TargetID: "p2"},
		SentAt: time.Now().UnixMilli(),
	}
	frame, ok := InputFrame("p1", msg)
	if !ok {
		t.Fatalf("expected input message to convert")
	}
	if frame.PlayerID != "p1" || frame.Tick != 12 {
		t.Fatalf("unexpected frame identity: %+v", frame)
	}
	if frame.MoveX != 0.5 || frame.MoveY != -1 {
		t.Fatalf("unexpected movement: %+v", frame)
	}
	if !frame.Intents.Kill || frame.Intents.Report {
		t.Fatalf("unexpected intents: %+v", frame.Intents)
	}
	if frame.Vote == nil || frame.Vote.TargetID != "p2" || frame.Vote.Skip {
		t.Fatalf("unexpected vote: %+v", frame.Vote)
	}

	if _, ok := InputFrame("p1", ClientMessage{Type: TypeHeartbeatReq}); ok {
		t.Fatalf("expected non-input message to be refused")
	}
}

func TestSnapshotRendersState(t *testing.T) {
	state := sim.NewGameState(9, sim.DefaultSettings())
	state.AddPlayer("p1", "alice")
	state.AddPlayer("p2", "bob")
	sim.Step(state, []sim.InputFrame{{PlayerID: "p1", Tick: 1, Intents: sim.Intents{Play: true}}})

	msg := Snapshot(state, time.UnixMilli(1700000000000))
	if msg.Type != TypeState || msg.Ver != Version {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if msg.Tick != state.Tick || msg.Phase != state.Phase {
		t.Fatalf("unexpected tick/phase: %+v", msg)
	}
	if len(msg.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(msg.Players))
	}
	// PlayerIDs sorts the roster, so the wire order is stable.
	if msg.Players[0].ID != "p1" || msg.Players[1].ID != "p2" {
		t.Fatalf("expected sorted player order, got %+v", msg.Players)
	}
	if msg.ServerTime != 1700000000000 {
		t.Fatalf("unexpected server time %d", msg.ServerTime)
	}

	data, err := EncodeState(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("state payload is not valid JSON: %v", err)
	}
	if decoded["type"] != "state" {
		t.Fatalf("unexpected type field: %v", decoded["type"])
	}
}

func TestEncodeFrameReject(t *testing.T) {
	data, err := EncodeFrameReject(10, 7, sim.RejectStaleInput)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var msg FrameRejectMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != TypeFrameReject || msg.Tick != 10 || msg.FrameTick != 7 {
		t.Fatalf("unexpected reject: %+v", msg)
	}
	if msg.Reason != "stale_input" {
		t.Fatalf("unexpected reason %q", msg.Reason)
	}
}
