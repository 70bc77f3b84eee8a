package match

import (
	"context"

	"airlock/server/logging"
)

const (
	// EventStarted is emitted when a lobby transitions into a live match.
	EventStarted logging.EventType = "match.started"
	// EventEnded is emitted when a win condition resolves the match.
	EventEnded logging.EventType = "match.ended"
	// EventPlayerJoined is emitted when a player is admitted to the lobby.
	EventPlayerJoined logging.EventType = "match.player_joined"
	// EventPlayerLeft is emitted when a player disconnects.
	EventPlayerLeft logging.EventType = "match.player_left"
	// EventMeetingCalled is emitted when a body report opens a voting phase.
	EventMeetingCalled logging.EventType = "match.meeting_called"
	// EventPlayerEjected is emitted when a vote resolves against a player.
	EventPlayerEjected logging.EventType = "match.player_ejected"
)

// StartedPayload captures the roster size when a match goes live.
type StartedPayload struct {
	Players int    `json:"players"`
	Seed    uint64 `json:"seed"`
}

func Started(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload StartedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStarted,
		Tick:     tick,
		MatchID:  matchID,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}

// EndedPayload records the winning team and the tick the match closed on.
type EndedPayload struct {
	Winner    string `json:"winner"`
	FinalTick uint64 `json:"finalTick"`
}

func Ended(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, payload EndedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEnded,
		Tick:     tick,
		MatchID:  matchID,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}

func PlayerJoined(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, playerID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerJoined,
		Tick:     tick,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
	})
}

func PlayerLeft(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, playerID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerLeft,
		Tick:     tick,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
	})
}

func MeetingCalled(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, reporterID string, bodyID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMeetingCalled,
		Tick:     tick,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: reporterID, Kind: logging.EntityKindPlayer},
		Targets:  []logging.EntityRef{{ID: bodyID, Kind: logging.EntityKindBody}},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
	})
}

func PlayerEjected(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, playerID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerEjected,
		Tick:     tick,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
	})
}
