package sim

import "math"

// Step advances the state by exactly one tick using the frames accepted for
// that tick. It is the only mutation point for GameState: identical (state,
// frames) pairs always produce identical results, including every RNG draw.
//
// Resolution order within a tick is fixed: movement, then task activation,
// then kill/report/meeting resolution. Frames are sorted by player id before
// any stage that depends on ordering.
func Step(s *GameState, frames []InputFrame) {
	s.Tick++

	ordered := append([]InputFrame(nil), frames...)
	SortFrames(ordered)

	switch s.Phase {
	case PhaseLobby:
		s.applyMovement(ordered)
		for _, frame := range ordered {
			if frame.Intents.Play {
				s.startGame()
				break
			}
		}
	case PhasePlaying:
		s.applyMovement(ordered)
		s.applyActivations(ordered)
		s.resolveKillsAndReports(ordered)
	case PhaseVoting:
		s.applyVotes(ordered)
		s.maybeResolveVote()
	case PhaseEnded:
		// Terminal: frames are recorded but change nothing.
	}
}

// applyMovement applies each frame's axes with fixed per-tick displacement
// and clamps to the map bounds. Players without a frame this tick hold still.
func (s *GameState) applyMovement(frames []InputFrame) {
	for _, frame := range frames {
		player, ok := s.Players[frame.PlayerID]
		if !ok || player.Absent {
			continue
		}
		dx := clampAxis(frame.MoveX)
		dy := clampAxis(frame.MoveY)
		if dx == 0 && dy == 0 {
			continue
		}
		player.X = clampCoord(player.X+dx*s.Settings.Speed, s.Settings.MapWidth)
		player.Y = clampCoord(player.Y+dy*s.Settings.Speed, s.Settings.MapHeight)
	}
}

func clampAxis(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

func clampCoord(v, max float64) float64 {
	return math.Max(0, math.Min(max, v))
}

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x1-x2, y1-y2)
}

// startGame deals tasks, assigns the impostor from the seeded generator, and
// moves the match into the playing phase. Task positions and the impostor
// index are drawn in sorted-roster order so the seed alone fixes them.
func (s *GameState) startGame() {
	ids := s.PlayerIDs()
	if len(ids) < 2 {
		return
	}
	for _, id := range ids {
		player := s.Players[id]
		player.Tasks = make([]Task, s.Settings.TasksPerPlayer)
		for i := range player.Tasks {
			player.Tasks[i] = Task{
				X: s.RNG.Float64() * s.Settings.MapWidth,
				Y: s.RNG.Float64() * s.Settings.MapHeight,
			}
		}
	}
	impostor := ids[s.RNG.Intn(len(ids))]
	s.Players[impostor].Role = RoleImpostor
	s.Phase = PhasePlaying
}
