package predict

import (
	"reflect"

	"airlock/server/internal/sim"
	"airlock/server/internal/telemetry"
)

// Predictor runs the engine locally for one client. Frames the client sends
// to the server are applied to a disposable clone immediately, so local
// movement never waits on the network. When an authoritative snapshot
// arrives the clone is discarded and every frame the snapshot does not yet
// cover is re-simulated on top of it.
type Predictor struct {
	state   *sim.GameState
	pending []sim.InputFrame
	logger  telemetry.Logger
	metrics telemetry.Metrics

	divergences uint64
}

// New starts predicting from the given snapshot.
func New(snapshot *sim.GameState) *Predictor {
	return NewWithTelemetry(snapshot, nil, nil)
}

// NewWithTelemetry reports reconciliation divergences through the given
// logger and metrics. A steady stream of divergences against an honest
// server usually means the client runs a different engine build.
func NewWithTelemetry(snapshot *sim.GameState, logger telemetry.Logger, metrics telemetry.Metrics) *Predictor {
	return &Predictor{state: snapshot.Clone(), logger: logger, metrics: metrics}
}

// State exposes the predicted state. Callers must treat it as read-only.
func (p *Predictor) State() *sim.GameState { return p.state }

// Tick reports the predicted tick.
func (p *Predictor) Tick() uint64 { return p.state.Tick }

// PendingFrames reports how many sent frames still await acknowledgement.
func (p *Predictor) PendingFrames() int { return len(p.pending) }

// Apply steps the local state one tick forward with the player's own frame
// and buffers the frame for replay during reconciliation. The frame is
// retagged to the tick it will be predicted at.
func (p *Predictor) Apply(frame sim.InputFrame) sim.InputFrame {
	frame.Tick = p.state.Tick + 1
	p.pending = append(p.pending, frame)
	sim.Step(p.state, []sim.InputFrame{frame})
	return frame
}

// Reconcile adopts an authoritative snapshot. Buffered frames at or before
// the snapshot tick are dropped; the rest are re-simulated in order, with
// empty steps filling any gaps. Reconciling twice against the same snapshot
// yields the same state.
//
// When the rebuilt state lands on the same tick as the previous prediction
// the two are compared; a mismatch is counted and logged so recurring
// divergence can be spotted in diagnostics.
func (p *Predictor) Reconcile(snapshot *sim.GameState) {
	prior := p.state

	var kept []sim.InputFrame
	for _, frame := range p.pending {
		if frame.Tick > snapshot.Tick {
			kept = append(kept, frame)
		}
	}
	p.pending = kept

	p.state = snapshot.Clone()
	for _, frame := range p.pending {
		for p.state.Tick+1 < frame.Tick {
			sim.Step(p.state, nil)
		}
		sim.Step(p.state, []sim.InputFrame{frame})
	}

	if p.state.Tick == prior.Tick && !reflect.DeepEqual(p.state, prior) {
		p.divergences++
		if p.metrics != nil {
			p.metrics.Add("predict_divergence", 1)
		}
		if p.logger != nil {
			p.logger.Printf("prediction diverged at tick %d (total %d)", prior.Tick, p.divergences)
		}
	}
}

// Divergences reports how many reconciliations corrected a mismatched
// prediction.
func (p *Predictor) Divergences() uint64 { return p.divergences }
