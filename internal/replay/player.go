package replay

import (
	"airlock/server/internal/sim"
)

// DefaultSkipTicks is how far SkipBack/SkipForward jump: 10 seconds at the
// live tick rate.
const DefaultSkipTicks uint64 = 150

// Player feeds a recorded log back through a fresh engine. It has no network
// dependency and advances only on explicit requests, so callers may drive it
// faster or slower than real time. State at position N is always re-derived
// by replaying ticks 1..N; no per-tick snapshots are stored.
type Player struct {
	log       *Log
	byTick    map[uint64]*Entry
	state     *sim.GameState
	position  uint64
	playing   bool
	skipTicks uint64
}

// NewPlayer gates the log against the engine build and prepares playback at
// tick zero. A version mismatch refuses playback outright; no state is
// touched.
func NewPlayer(log *Log, engineVersion string) (*Player, error) {
	if err := CheckVersion(log.Header, engineVersion); err != nil {
		return nil, err
	}
	byTick := make(map[uint64]*Entry, len(log.Entries))
	for i := range log.Entries {
		entry := &log.Entries[i]
		if existing, ok := byTick[entry.Tick]; ok && entry.End {
			// The end marker shares its tick with the last frames entry.
			existing.End = true
			continue
		}
		byTick[entry.Tick] = entry
	}
	return &Player{
		log:       log,
		byTick:    byTick,
		state:     sim.NewGameState(log.Header.Seed, log.Header.Settings),
		skipTicks: DefaultSkipTicks,
	}, nil
}

// SetSkipTicks overrides the skip increment.
func (p *Player) SetSkipTicks(ticks uint64) {
	if ticks > 0 {
		p.skipTicks = ticks
	}
}

// CurrentState exposes the replayed state at the current position. Callers
// must treat it as read-only.
func (p *Player) CurrentState() *sim.GameState { return p.state }

// Position reports the current playback tick.
func (p *Player) Position() uint64 { return p.position }

// Length reports the final tick of the log.
func (p *Player) Length() uint64 { return p.log.Length() }

// Playing reports whether automatic advancement is active.
func (p *Player) Playing() bool { return p.playing }

// Finished reports whether playback reached the final tick.
func (p *Player) Finished() bool { return p.position >= p.Length() }

// Play resumes automatic advancement; the caller's clock decides the cadence
// and calls Advance once per elapsed tick.
func (p *Player) Play() { p.playing = true }

// Pause halts advancement while retaining the current position.
func (p *Player) Pause() { p.playing = false }

// Advance steps playback by one tick when playing. It reports true once the
// final tick is reached, mirroring the engine's own terminal condition.
func (p *Player) Advance() (finished bool) {
	if !p.playing {
		return p.Finished()
	}
	if p.Finished() {
		p.playing = false
		return true
	}
	p.stepOnce()
	if p.Finished() {
		p.playing = false
		return true
	}
	return false
}

// Seek re-derives the state at the requested tick. Positions beyond the log
// clamp to the final tick and report finished; seeking backwards restarts
// from tick zero. Never errors and never leaves the state undefined.
func (p *Player) Seek(tick uint64) (finished bool) {
	length := p.Length()
	if tick > length {
		tick = length
	}
	if tick < p.position {
		p.state = sim.NewGameState(p.log.Header.Seed, p.log.Header.Settings)
		p.position = 0
	}
	for p.position < tick {
		p.stepOnce()
	}
	return p.Finished()
}

// SkipForward jumps ahead by the skip increment, clamped to the log length.
func (p *Player) SkipForward() (finished bool) {
	return p.Seek(p.position + p.skipTicks)
}

// SkipBack jumps back by the skip increment, clamped to tick zero.
func (p *Player) SkipBack() (finished bool) {
	if p.position <= p.skipTicks {
		return p.Seek(0)
	}
	return p.Seek(p.position - p.skipTicks)
}

// ApplyControl maps the replay-control intents of an input frame onto the
// playback controls, so a viewer's frames drive the player the same way
// gameplay frames drive the engine.
func (p *Player) ApplyControl(intents sim.Intents) (finished bool) {
	if intents.Play {
		p.Play()
	}
	if intents.Pause {
		p.Pause()
	}
	if intents.SkipBack {
		return p.SkipBack()
	}
	if intents.SkipForward {
		return p.SkipForward()
	}
	return p.Finished()
}

// stepOnce replays exactly one tick: joins and leaves first, then the step
// with that tick's frames, matching the live room's ordering.
func (p *Player) stepOnce() {
	next := p.position + 1
	if entry, ok := p.byTick[next]; ok {
		for _, join := range entry.Joins {
			p.state.AddPlayer(join.PlayerID, join.Name)
		}
		for _, id := range entry.Leaves {
			p.state.MarkAbsent(id)
		}
		sim.Step(p.state, entry.Frames)
	} else {
		sim.Step(p.state, nil)
	}
	p.position = next
}
