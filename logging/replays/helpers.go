package replays

import (
	"context"

	"airlock/server/logging"
)

const (
	// EventArchived is emitted when a finished recording is persisted.
	EventArchived logging.EventType = "replay.archived"
	// EventArchiveFailed is emitted when persisting a recording fails.
	EventArchiveFailed logging.EventType = "replay.archive_failed"
	// EventTruncated is emitted when a stored recording loads with a damaged tail.
	EventTruncated logging.EventType = "replay.truncated"
)

// ArchivedPayload records where a recording ended and how large it was.
type ArchivedPayload struct {
	FinalTick uint64 `json:"finalTick"`
	Bytes     int    `json:"bytes"`
}

func Archived(ctx context.Context, pub logging.Publisher, matchID string, payload ArchivedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventArchived,
		Tick:     payload.FinalTick,
		MatchID:  matchID,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplay,
		Payload:  payload,
	})
}

func ArchiveFailed(ctx context.Context, pub logging.Publisher, matchID string, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventArchiveFailed,
		MatchID:  matchID,
		Severity: logging.SeverityError,
		Category: logging.CategoryReplay,
		Payload:  map[string]any{"reason": reason},
	})
}

// TruncatedPayload names the last tick that survived in a damaged recording.
type TruncatedPayload struct {
	LastGoodTick uint64 `json:"lastGoodTick"`
}

func Truncated(ctx context.Context, pub logging.Publisher, matchID string, payload TruncatedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTruncated,
		Tick:     payload.LastGoodTick,
		MatchID:  matchID,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplay,
		Payload:  payload,
	})
}
