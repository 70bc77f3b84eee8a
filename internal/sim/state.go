package sim

import "sort"

// Role distinguishes crew from impostors.
type Role string

const (
	RoleCrew     Role = "crew"
	RoleImpostor Role = "impostor"
)

// Team identifies a winning side.
type Team string

const (
	TeamCrew      Team = "crew"
	TeamImpostors Team = "impostors"
)

// Phase enumerates the match lifecycle.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseVoting  Phase = "voting"
	PhaseEnded   Phase = "ended"
)

// Task is a single assignment dealt to a crew member.
type Task struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Done bool    `json:"done,omitempty"`
}

// Body marks where a player died. CreatedTick orders bodies deterministically
// when several are reportable in the same tick.
type Body struct {
	PlayerID    string  `json:"playerId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	CreatedTick uint64  `json:"createdTick"`
}

// PlayerState is owned exclusively by GameState and mutated only during a
// step. Absent players stay in the map so a replay of the match resolves the
// same frames against the same roster.
type PlayerState struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Role        Role    `json:"role"`
	Alive       bool    `json:"alive"`
	Absent      bool    `json:"absent,omitempty"`
	KillReadyAt uint64  `json:"killReadyAt,omitempty"`
	Tasks       []Task  `json:"tasks,omitempty"`
}

// VotingState tracks an open vote. Votes are immutable once cast; the first
// frame that carries a vote for a player wins.
type VotingState struct {
	StartedTick uint64                `json:"startedTick"`
	EndsTick    uint64                `json:"endsTick"`
	Votes       map[string]VoteIntent `json:"votes"`
}

// GameState is the complete snapshot of a match at a tick boundary. Every
// field is serializable and every mutation happens inside Step, so the state
// at tick N is a pure function of the seed and the frames for ticks 1..N.
type GameState struct {
	Tick     uint64                  `json:"tick"`
	Phase    Phase                   `json:"phase"`
	Settings Settings                `json:"settings"`
	RNG      RNG                     `json:"rng"`
	Players  map[string]*PlayerState `json:"players"`
	Bodies   []Body                  `json:"bodies,omitempty"`
	Voting   *VotingState            `json:"voting,omitempty"`
	Winner   Team                    `json:"winner,omitempty"`
}

// NewGameState creates a lobby-phase match seeded for deterministic draws.
func NewGameState(seed uint64, settings Settings) *GameState {
	return &GameState{
		Phase:    PhaseLobby,
		Settings: settings,
		RNG:      NewRNG(seed),
		Players:  make(map[string]*PlayerState),
	}
}

// AddPlayer registers a player during the lobby phase. The spawn position is
// drawn from the state RNG, so seed plus join order fixes every spawn.
func (s *GameState) AddPlayer(id, name string) bool {
	if s.Phase != PhaseLobby {
		return false
	}
	if _, ok := s.Players[id]; ok {
		return false
	}
	margin := 30.0
	s.Players[id] = &PlayerState{
		ID:    id,
		Name:  name,
		X:     margin + s.RNG.Float64()*(s.Settings.MapWidth-2*margin),
		Y:     margin + s.RNG.Float64()*(s.Settings.MapHeight-2*margin),
		Role:  RoleCrew,
		Alive: true,
	}
	return true
}

// MarkAbsent flags a disconnected player without removing it. During the
// lobby the player is removed outright instead; nothing has been recorded
// about them yet.
func (s *GameState) MarkAbsent(id string) {
	player, ok := s.Players[id]
	if !ok {
		return
	}
	if s.Phase == PhaseLobby {
		delete(s.Players, id)
		return
	}
	player.Absent = true
	// Release any votes cast for the absent player so voters may recast.
	if s.Voting != nil {
		for voter, vote := range s.Voting.Votes {
			if vote.TargetID == id {
				delete(s.Voting.Votes, voter)
			}
		}
	}
}

// PlayerIDs returns the roster in sorted order. Every iteration that affects
// resolution order goes through this helper.
func (s *GameState) PlayerIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AlivePlayers counts living players per role.
func (s *GameState) AlivePlayers() (crew, impostors int) {
	for _, p := range s.Players {
		if !p.Alive {
			continue
		}
		if p.Role == RoleImpostor {
			impostors++
		} else {
			crew++
		}
	}
	return crew, impostors
}

// Clone deep-copies the state. The prediction layer keeps disposable clones
// that are discarded whenever an authoritative snapshot diverges.
func (s *GameState) Clone() *GameState {
	clone := *s
	clone.Players = make(map[string]*PlayerState, len(s.Players))
	for id, p := range s.Players {
		copied := *p
		if len(p.Tasks) > 0 {
			copied.Tasks = append([]Task(nil), p.Tasks...)
		}
		clone.Players[id] = &copied
	}
	if len(s.Bodies) > 0 {
		clone.Bodies = append([]Body(nil), s.Bodies...)
	}
	if s.Voting != nil {
		voting := *s.Voting
		voting.Votes = make(map[string]VoteIntent, len(s.Voting.Votes))
		for voter, vote := range s.Voting.Votes {
			voting.Votes[voter] = vote
		}
		clone.Voting = &voting
	}
	return &clone
}
