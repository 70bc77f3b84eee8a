package sim

// Settings carries the tunable gameplay constants. Every value that changes
// how a tick resolves lives here so a recording and the engine replaying it
// agree on the exact numbers.
type Settings struct {
	// Speed is the per-tick displacement applied to a full movement axis.
	Speed float64 `json:"speed"`
	// TaskDistance is the interaction radius for completing a task.
	TaskDistance float64 `json:"taskDistance"`
	// KillDistance is the maximum distance at which a kill lands.
	KillDistance float64 `json:"killDistance"`
	// ReportDistance is the maximum distance at which a body can be reported.
	ReportDistance float64 `json:"reportDistance"`
	// KillCooldownTicks is the number of ticks between kills by one impostor.
	KillCooldownTicks uint64 `json:"killCooldownTicks"`
	// VotingWindowTicks bounds how long a vote stays open.
	VotingWindowTicks uint64 `json:"votingWindowTicks"`
	// TasksPerPlayer is the number of tasks dealt to each crew member.
	TasksPerPlayer int `json:"tasksPerPlayer"`
	// MapWidth and MapHeight bound player positions.
	MapWidth  float64 `json:"mapWidth"`
	MapHeight float64 `json:"mapHeight"`
}

// DefaultSettings mirrors the distances the game shipped with.
func DefaultSettings() Settings {
	return Settings{
		Speed:             2.0,
		TaskDistance:      32.0,
		KillDistance:      64.0,
		ReportDistance:    96.0,
		KillCooldownTicks: 450, // 30s at 15 ticks per second
		VotingWindowTicks: 1800,
		TasksPerPlayer:    6,
		MapWidth:          1024.0,
		MapHeight:         768.0,
	}
}
