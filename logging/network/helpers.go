package network

import (
	"context"

	"airlock/server/logging"
)

const (
	// EventFrameRejected is emitted when an input frame is refused before staging.
	EventFrameRejected logging.EventType = "network.frame_rejected"
	// EventMalformedMessage is emitted when a websocket payload fails to decode.
	EventMalformedMessage logging.EventType = "network.malformed_message"
	// EventDisconnected is emitted when a websocket session is torn down.
	EventDisconnected logging.EventType = "network.disconnected"
)

// FrameRejectedPayload captures why an input frame never reached the queue.
type FrameRejectedPayload struct {
	FrameTick uint64 `json:"frameTick"`
	Reason    string `json:"reason"`
}

func FrameRejected(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, playerID string, payload FrameRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameRejected,
		Tick:     tick,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func MalformedMessage(ctx context.Context, pub logging.Publisher, matchID string, playerID string, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedMessage,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  map[string]any{"reason": reason},
	})
}

func Disconnected(ctx context.Context, pub logging.Publisher, matchID string, tick uint64, playerID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDisconnected,
		Tick:     tick,
		MatchID:  matchID,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}
