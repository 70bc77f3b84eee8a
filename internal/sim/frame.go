package sim

import (
	"sort"
	"time"
)

// Intents captures the boolean actions a player declared for one tick. The
// replay-control intents (Play, Pause, SkipBack, SkipForward) are recorded so
// playback tooling can observe them; during a live match only Play has an
// effect, and only in the lobby.
type Intents struct {
	Kill        bool `json:"kill,omitempty"`
	Report      bool `json:"report,omitempty"`
	Activate    bool `json:"activate,omitempty"`
	Play        bool `json:"play,omitempty"`
	Pause       bool `json:"pause,omitempty"`
	SkipBack    bool `json:"skipBack,omitempty"`
	SkipForward bool `json:"skipForward,omitempty"`
}

// VoteIntent names the target of a vote cast during the voting phase.
// TargetID is empty when the voter chose to skip.
type VoteIntent struct {
	TargetID string `json:"targetId,omitempty"`
	Skip     bool   `json:"skip,omitempty"`
}

// InputFrame is one player's declared intent for one tick. Frames are
// immutable once created and uniquely identified by (PlayerID, Tick).
// CapturedAt is diagnostics metadata only; the step never reads it.
type InputFrame struct {
	PlayerID   string      `json:"playerId"`
	Tick       uint64      `json:"tick"`
	MoveX      float64     `json:"moveX,omitempty"`
	MoveY      float64     `json:"moveY,omitempty"`
	Intents    Intents     `json:"intents"`
	Vote       *VoteIntent `json:"vote,omitempty"`
	CapturedAt time.Time   `json:"capturedAt,omitzero"`
}

// SortFrames orders frames by player id. The step sorts every tick's frames
// before resolution so same-tick interactions resolve identically regardless
// of arrival order.
func SortFrames(frames []InputFrame) {
	sort.Slice(frames, func(i, j int) bool {
		return frames[i].PlayerID < frames[j].PlayerID
	})
}
