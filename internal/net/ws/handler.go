package ws

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"airlock/server/internal/net/proto"
	"airlock/server/internal/room"
	"airlock/server/internal/telemetry"
	"airlock/server/logging"
	netlog "airlock/server/logging/network"
)

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
}

// Handler upgrades websocket requests and runs one session per player.
type Handler struct {
	hub       *room.Hub
	logger    telemetry.Logger
	publisher logging.Publisher
	upgrader  websocket.Upgrader
}

func NewHandler(hub *room.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:       hub,
		logger:    logger,
		publisher: publisher,
		upgrader:  upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}

	h.serve(playerID, conn)
}

// serve runs the read loop for one player until the connection drops.
func (h *Handler) serve(playerID string, conn *websocket.Conn) {
	match, ok := h.hub.RoomFor(playerID)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	sub, state, ok := match.Subscribe(playerID, conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	data, err := proto.EncodeState(proto.Snapshot(state, time.Now()))
	if err != nil {
		h.logger.Printf("failed to marshal initial state for %s: %v", playerID, err)
		h.disconnect(match, playerID)
		return
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.disconnect(match, playerID)
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.disconnect(match, playerID)
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", playerID, err)
			netlog.MalformedMessage(context.Background(), h.publisher, match.ID(), playerID, err.Error())
			continue
		}

		switch msg.Type {
		case proto.TypeInput:
			frame, ok := proto.InputFrame(playerID, msg)
			if !ok {
				continue
			}
			if ok, reason := match.StageFrame(frame); !ok {
				tick := match.Tick()
				netlog.FrameRejected(context.Background(), h.publisher, match.ID(), tick, playerID, netlog.FrameRejectedPayload{
					FrameTick: frame.Tick,
					Reason:    reason,
				})
				data, err := proto.EncodeFrameReject(tick, frame.Tick, reason)
				if err != nil {
					h.logger.Printf("failed to marshal reject for %s: %v", playerID, err)
					continue
				}
				if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
					h.disconnect(match, playerID)
					return
				}
			}
		case proto.TypeHeartbeatReq:
			now := time.Now()
			// The round trip is the gap between the serverTime we sent in
			// the previous acknowledgement and the heartbeat echoing it.
			// The first heartbeat carries no echo and reports zero.
			rtt := time.Duration(0)
			if msg.ServerTime > 0 {
				rtt = time.Duration(now.UnixMilli()-msg.ServerTime) * time.Millisecond
				if rtt < 0 {
					rtt = 0
				}
			}
			match.RecordHeartbeat(playerID, rtt)
			data, err := proto.EncodeHeartbeat(now, msg.SentAt, rtt)
			if err != nil {
				h.logger.Printf("failed to marshal heartbeat ack for %s: %v", playerID, err)
				continue
			}
			if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
				h.disconnect(match, playerID)
				return
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, playerID)
		}
	}
}

func (h *Handler) disconnect(match *room.Room, playerID string) {
	match.Disconnect(playerID)
	netlog.Disconnected(context.Background(), h.publisher, match.ID(), match.Tick(), playerID)
}
