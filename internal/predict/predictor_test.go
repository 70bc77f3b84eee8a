package predict

import (
	"fmt"
	"reflect"
	"testing"

	"airlock/server/internal/sim"
	"airlock/server/internal/telemetry"
)

func newStartedGame(seed uint64, players int) *sim.GameState {
	state := sim.NewGameState(seed, sim.DefaultSettings())
	for i := 0; i < players; i++ {
		if !state.AddPlayer(fmt.Sprintf("player-%d", i+1), fmt.Sprintf("name-%d", i+1)) {
			panic("failed to add player")
		}
	}
	sim.Step(state, []sim.InputFrame{{
		PlayerID: "player-1",
		Tick:     state.Tick + 1,
		Intents:  sim.Intents{Play: true},
	}})
	return state
}

func moveFrame(playerID string, dx, dy float64) sim.InputFrame {
	return sim.InputFrame{PlayerID: playerID, MoveX: dx, MoveY: dy}
}

func TestPredictionMatchesServerWithSameFrames(t *testing.T) {
	server := newStartedGame(11, 3)
	predictor := New(server)

	for i := 0; i < 10; i++ {
		frame := predictor.Apply(moveFrame("player-1", 1, 0))
		sim.Step(server, []sim.InputFrame{frame})
	}

	if !reflect.DeepEqual(predictor.State(), server) {
		t.Fatalf("predicted state diverged from server with identical frames")
	}
}

func TestReconcileDropsCoveredFramesAndReplaysRest(t *testing.T) {
	server := newStartedGame(12, 3)
	predictor := New(server)

	var frames []sim.InputFrame
	for i := 0; i < 5; i++ {
		frames = append(frames, predictor.Apply(moveFrame("player-1", 0, 1)))
	}

	// The server has only processed the first three frames so far.
	for _, frame := range frames[:3] {
		sim.Step(server, []sim.InputFrame{frame})
	}

	predictor.Reconcile(server)
	if got := predictor.PendingFrames(); got != 2 {
		t.Fatalf("expected 2 unacknowledged frames after reconcile, got %d", got)
	}

	expected := server.Clone()
	for _, frame := range frames[3:] {
		sim.Step(expected, []sim.InputFrame{frame})
	}
	if !reflect.DeepEqual(predictor.State(), expected) {
		t.Fatalf("reconciled state does not match replaying the unacknowledged frames")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	server := newStartedGame(13, 3)
	predictor := New(server)

	var frames []sim.InputFrame
	for i := 0; i < 4; i++ {
		frames = append(frames, predictor.Apply(moveFrame("player-1", 1, 1)))
	}
	for _, frame := range frames[:2] {
		sim.Step(server, []sim.InputFrame{frame})
	}

	predictor.Reconcile(server)
	first := predictor.State().Clone()
	pending := predictor.PendingFrames()

	predictor.Reconcile(server)
	if predictor.PendingFrames() != pending {
		t.Fatalf("pending frames changed on repeated reconcile: %d vs %d", pending, predictor.PendingFrames())
	}
	if !reflect.DeepEqual(predictor.State(), first) {
		t.Fatalf("repeated reconcile against the same snapshot changed the state")
	}
}

func TestReconcileCorrectsDivergence(t *testing.T) {
	server := newStartedGame(14, 3)
	predictor := New(server)

	// The client predicts eastward movement, but the server resolved the
	// frame differently.
	predicted := predictor.Apply(moveFrame("player-1", 1, 0))
	actual := predicted
	actual.MoveX = -1
	sim.Step(server, []sim.InputFrame{actual})

	if reflect.DeepEqual(predictor.State(), server) {
		t.Fatalf("expected predicted and authoritative states to differ before reconcile")
	}

	predictor.Reconcile(server)
	if predictor.PendingFrames() != 0 {
		t.Fatalf("expected no pending frames after full acknowledgement")
	}
	if !reflect.DeepEqual(predictor.State(), server) {
		t.Fatalf("expected reconcile to adopt the authoritative state")
	}
}

func TestReconcileFillsGapsWithEmptySteps(t *testing.T) {
	server := newStartedGame(15, 3)
	predictor := New(server)

	first := predictor.Apply(moveFrame("player-1", 1, 0))
	// Two idle ticks pass locally before the next input.
	sim.Step(predictor.State(), nil)
	sim.Step(predictor.State(), nil)
	late := moveFrame("player-1", 0, 1)
	late.Tick = predictor.Tick() + 1
	predictor.pending = append(predictor.pending, late)
	sim.Step(predictor.State(), []sim.InputFrame{late})

	sim.Step(server, []sim.InputFrame{first})

	predictor.Reconcile(server)

	expected := server.Clone()
	for expected.Tick+1 < late.Tick {
		sim.Step(expected, nil)
	}
	sim.Step(expected, []sim.InputFrame{late})
	if !reflect.DeepEqual(predictor.State(), expected) {
		t.Fatalf("expected gap ticks to be replayed as empty steps")
	}
}

type recordingMetrics struct {
	counts map[string]uint64
}

func (m *recordingMetrics) Add(key string, delta uint64) {
	if m.counts == nil {
		m.counts = make(map[string]uint64)
	}
	m.counts[key] += delta
}

func (m *recordingMetrics) Store(string, uint64) {}

func TestReconcileCountsDivergence(t *testing.T) {
	server := newStartedGame(16, 3)
	metrics := &recordingMetrics{}
	var logged int
	logger := telemetry.LoggerFunc(func(string, ...any) { logged++ })
	predictor := NewWithTelemetry(server, logger, metrics)

	predicted := predictor.Apply(moveFrame("player-1", 1, 0))
	actual := predicted
	actual.MoveX = -1
	sim.Step(server, []sim.InputFrame{actual})

	predictor.Reconcile(server)
	if got := predictor.Divergences(); got != 1 {
		t.Fatalf("expected 1 divergence, got %d", got)
	}
	if metrics.counts["predict_divergence"] != 1 {
		t.Fatalf("expected divergence counter at 1, got %d", metrics.counts["predict_divergence"])
	}
	if logged != 1 {
		t.Fatalf("expected 1 divergence log line, got %d", logged)
	}

	// Reconciling again against the same snapshot finds nothing new.
	predictor.Reconcile(server)
	if got := predictor.Divergences(); got != 1 {
		t.Fatalf("expected repeated reconcile to leave the counter alone, got %d", got)
	}
}

func TestReconcileAgreementLeavesCounterFlat(t *testing.T) {
	server := newStartedGame(17, 3)
	predictor := NewWithTelemetry(server, nil, nil)

	for i := 0; i < 4; i++ {
		frame := predictor.Apply(moveFrame("player-1", 0, 1))
		sim.Step(server, []sim.InputFrame{frame})
	}

	predictor.Reconcile(server)
	if got := predictor.Divergences(); got != 0 {
		t.Fatalf("expected no divergences when client and server agree, got %d", got)
	}
}
