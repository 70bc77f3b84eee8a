package room

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"airlock/server/buildinfo"
	"airlock/server/internal/net/proto"
	"airlock/server/internal/sim"
)

// Hub owns the live rooms. Players join through the hub, which opens a fresh
// lobby whenever the current one has started or finished its match.
type Hub struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	current *Room
	rooms   map[string]*Room
	players map[string]*Room
	stops   map[string]chan struct{}
	seedFn  func() uint64
}

func NewHub(cfg Config, deps Deps) *Hub {
	return &Hub{
		cfg:     cfg,
		deps:    deps,
		rooms:   make(map[string]*Room),
		players: make(map[string]*Room),
		stops:   make(map[string]chan struct{}),
		seedFn:  randomSeed,
	}
}

// Join admits a player into the current lobby, opening a new one if the
// previous match has already started.
func (h *Hub) Join(name string) (proto.JoinResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked()

	if h.current == nil || h.current.Archived() || h.current.Phase() != sim.PhaseLobby {
		room, err := NewRoom(uuid.NewString(), h.seedFn(), h.cfg, h.deps)
		if err != nil {
			return proto.JoinResponse{}, err
		}
		stop := make(chan struct{})
		h.current = room
		h.rooms[room.ID()] = room
		h.stops[room.ID()] = stop
		go room.Run(stop)
	}

	playerID := uuid.NewString()
	state, err := h.current.Join(playerID, name)
	if err != nil {
		return proto.JoinResponse{}, err
	}
	h.players[playerID] = h.current

	return proto.JoinResponse{
		Ver:          proto.Version,
		ID:           playerID,
		MatchID:      h.current.ID(),
		BuildVersion: buildinfo.Version(),
		Settings:     h.cfg.Settings,
		State:        proto.Snapshot(state, time.Now()),
	}, nil
}

// RoomFor resolves the room a joined player belongs to.
func (h *Hub) RoomFor(playerID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.players[playerID]
	return room, ok
}

// Room resolves a live room by match id.
func (h *Hub) Room(matchID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[matchID]
	return room, ok
}

// pruneLocked stops the loops of archived rooms and forgets their players.
// Players whose room no longer knows them, such as lobby leavers, are
// forgotten as well so an idle lobby does not accumulate stale mappings.
func (h *Hub) pruneLocked() {
	for id, room := range h.rooms {
		if !room.Archived() {
			continue
		}
		if room == h.current {
			continue
		}
		if stop, ok := h.stops[id]; ok {
			close(stop)
			delete(h.stops, id)
		}
		delete(h.rooms, id)
		for playerID, owner := range h.players {
			if owner == room {
				delete(h.players, playerID)
			}
		}
	}
	for playerID, owner := range h.players {
		if !owner.KnownPlayer(playerID) {
			delete(h.players, playerID)
		}
	}
}

// Close stops every room loop.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, stop := range h.stops {
		close(stop)
		delete(h.stops, id)
	}
}

// RoomDiagnostics summarizes one room for the diagnostics endpoint.
type RoomDiagnostics struct {
	MatchID       string              `json:"matchId"`
	Tick          uint64              `json:"tick"`
	Phase         sim.Phase           `json:"phase"`
	PendingFrames int                 `json:"pendingFrames"`
	Archived      bool                `json:"archived"`
	Players       []PlayerDiagnostics `json:"players"`
}

// PlayerDiagnostics summarizes one player's connection health.
type PlayerDiagnostics struct {
	ID            string `json:"id"`
	Absent        bool   `json:"absent"`
	Connected     bool   `json:"connected"`
	StaleDrops    uint64 `json:"staleDrops"`
	RTTMillis     int64  `json:"rtt"`
	LastHeartbeat int64  `json:"lastHeartbeat,omitempty"`
}

// DiagnosticsSnapshot reports the live rooms and their players.
func (h *Hub) DiagnosticsSnapshot() []RoomDiagnostics {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	out := make([]RoomDiagnostics, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.diagnostics())
	}
	return out
}

func (r *Room) diagnostics() RoomDiagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()

	diag := RoomDiagnostics{
		MatchID:       r.id,
		Tick:          r.state.Tick,
		Phase:         r.state.Phase,
		PendingFrames: r.queue.Pending(),
		Archived:      r.archived,
	}
	for _, id := range r.state.PlayerIDs() {
		player := r.state.Players[id]
		entry := PlayerDiagnostics{
			ID:         id,
			Absent:     player.Absent,
			StaleDrops: r.queue.StaleDrops(id),
		}
		if sub, ok := r.subscribers[id]; ok {
			entry.Connected = true
			sub.mu.Lock()
			entry.RTTMillis = sub.rtt.Milliseconds()
			if !sub.lastHeartbeat.IsZero() {
				entry.LastHeartbeat = sub.lastHeartbeat.UnixMilli()
			}
			sub.mu.Unlock()
		}
		diag.Players = append(diag.Players, entry)
	}
	return diag
}

func randomSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
