package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"airlock/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for outbound websocket payloads.
	TypeState       = "state"
	TypeFrameReject = "frameReject"
	TypeHeartbeat   = "heartbeat"
)

// Client message type identifiers.
const (
	TypeInput        = "input"
	TypeHeartbeatReq = "heartbeat"
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver      int          `json:"ver,omitempty"`
	Type     string       `json:"type"`
	Tick     uint64       `json:"t"`
	MoveX    float64      `json:"dx"`
	MoveY    float64      `json:"dy"`
	Kill     bool         `json:"kill,omitempty"`
	Report   bool         `json:"report,omitempty"`
	Activate bool         `json:"activate,omitempty"`
	Play     bool         `json:"play,omitempty"`
	Vote     *VotePayload `json:"vote,omitempty"`
	SentAt   int64        `json:"sentAt"`
	// ServerTime echoes the serverTime from the last heartbeat
	// acknowledgement; it lets the server measure round trips on its
	// own clock.
	ServerTime int64 `json:"serverTime,omitempty"`
}

// VotePayload carries a meeting ballot.
type VotePayload struct {
	TargetID string `json:"targetId,omitempty"`
	Skip     bool   `json:"skip,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// InputFrame converts an input message into the simulation frame it encodes.
func InputFrame(playerID string, msg ClientMessage) (sim.InputFrame, bool) {
	if msg.Type != TypeInput {
		return sim.InputFrame{}, false
	}
	frame := sim.InputFrame{
		PlayerID: playerID,
		Tick:     msg.Tick,
		MoveX:    msg.MoveX,
		MoveY:    msg.MoveY,
		Intents: sim.Intents{
			Kill:     msg.Kill,
			Report:   msg.Report,
			Activate: msg.Activate,
			Play:     msg.Play,
		},
		CapturedAt: time.UnixMilli(msg.SentAt),
	}
	if msg.Vote != nil {
		frame.Vote = &sim.VoteIntent{TargetID: msg.Vote.TargetID, Skip: msg.Vote.Skip}
	}
	return frame, true
}

// PlayerView is the per-player slice of a state snapshot.
type PlayerView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Role      sim.Role   `json:"role"`
	Alive     bool       `json:"alive"`
	Absent    bool       `json:"absent,omitempty"`
	Tasks     []sim.Task `json:"tasks,omitempty"`
	KillReady uint64     `json:"killReadyAt,omitempty"`
}

// BodyView describes a corpse awaiting report.
type BodyView struct {
	PlayerID    string  `json:"playerId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	CreatedTick uint64  `json:"createdTick"`
}

// VotingView describes an open meeting.
type VotingView struct {
	StartedTick uint64                 `json:"startedTick"`
	EndsTick    uint64                 `json:"endsTick"`
	Votes       map[string]VotePayload `json:"votes"`
}

// StateMessage is the authoritative snapshot broadcast each tick.
type StateMessage struct {
	Ver        int          `json:"ver"`
	Type       string       `json:"type"`
	Tick       uint64       `json:"t"`
	Phase      sim.Phase    `json:"phase"`
	Players    []PlayerView `json:"players"`
	Bodies     []BodyView   `json:"bodies,omitempty"`
	Voting     *VotingView  `json:"voting,omitempty"`
	Winner     sim.Team     `json:"winner,omitempty"`
	ServerTime int64        `json:"serverTime"`
}

// FrameRejectMessage tells a client an input frame was refused.
type FrameRejectMessage struct {
	Ver       int    `json:"ver"`
	Type      string `json:"type"`
	Tick      uint64 `json:"t"`
	FrameTick uint64 `json:"frameTick"`
	Reason    string `json:"reason"`
}

// HeartbeatMessage acknowledges a heartbeat. The client echoes ServerTime
// back in its next heartbeat so the round trip is measured entirely on the
// server clock.
type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

// JoinResponse acknowledges a lobby admission over HTTP.
type JoinResponse struct {
	Ver          int          `json:"ver"`
	ID           string       `json:"id"`
	MatchID      string       `json:"matchId"`
	BuildVersion string       `json:"buildVersion"`
	Settings     sim.Settings `json:"settings"`
	State        StateMessage `json:"state"`
}

// Snapshot renders the wire view of an authoritative game state.
func Snapshot(s *sim.GameState, serverTime time.Time) StateMessage {
	msg := StateMessage{
		Ver:        Version,
		Type:       TypeState,
		Tick:       s.Tick,
		Phase:      s.Phase,
		Winner:     s.Winner,
		ServerTime: serverTime.UnixMilli(),
	}
	for _, id := range s.PlayerIDs() {
		p := s.Players[id]
		view := PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			X:         p.X,
			Y:         p.Y,
			Role:      p.Role,
			Alive:     p.Alive,
			Absent:    p.Absent,
			KillReady: p.KillReadyAt,
		}
		if len(p.Tasks) > 0 {
			view.Tasks = append([]sim.Task(nil), p.Tasks...)
		}
		msg.Players = append(msg.Players, view)
	}
	for _, body := range s.Bodies {
		msg.Bodies = append(msg.Bodies, BodyView{
			PlayerID:    body.PlayerID,
			X:           body.X,
			Y:           body.Y,
			CreatedTick: body.CreatedTick,
		})
	}
	if s.Voting != nil {
		view := VotingView{
			StartedTick: s.Voting.StartedTick,
			EndsTick:    s.Voting.EndsTick,
			Votes:       make(map[string]VotePayload, len(s.Voting.Votes)),
		}
		for voter, ballot := range s.Voting.Votes {
			view.Votes[voter] = VotePayload{TargetID: ballot.TargetID, Skip: ballot.Skip}
		}
		msg.Voting = &view
	}
	return msg
}

// EncodeState renders a state snapshot payload.
func EncodeState(msg StateMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// EncodeFrameReject renders a frame rejection payload.
func EncodeFrameReject(tick, frameTick uint64, reason string) ([]byte, error) {
	return json.Marshal(FrameRejectMessage{
		Ver:       Version,
		Type:      TypeFrameReject,
		Tick:      tick,
		FrameTick: frameTick,
		Reason:    reason,
	})
}

// EncodeHeartbeat renders a heartbeat acknowledgement.
func EncodeHeartbeat(serverTime time.Time, clientSent int64, rtt time.Duration) ([]byte, error) {
	return json.Marshal(HeartbeatMessage{
		Ver:        Version,
		Type:       TypeHeartbeat,
		ServerTime: serverTime.UnixMilli(),
		ClientTime: clientSent,
		RTTMillis:  rtt.Milliseconds(),
	})
}
