package room

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"airlock/server/buildinfo"
	"airlock/server/internal/net/proto"
	"airlock/server/internal/replay"
	"airlock/server/internal/sim"
	"airlock/server/internal/telemetry"
	"airlock/server/logging"
	matchlog "airlock/server/logging/match"
	replaylog "airlock/server/logging/replays"
)

const writeWait = 5 * time.Second

// ErrMatchStarted is returned when a join arrives after the lobby closed.
var ErrMatchStarted = errors.New("room: match already started")

// Config fixes the cadence and buffering of a room's tick loop.
type Config struct {
	TickRate     int
	FrameHorizon uint64
	FlushEvery   int
	Settings     sim.Settings
}

func DefaultConfig() Config {
	return Config{
		TickRate:     30,
		FrameHorizon: 90,
		FlushEvery:   16,
		Settings:     sim.DefaultSettings(),
	}
}

// Deps carries the shared services a room reports through.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Store     *replay.Store
}

type Subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex

	lastHeartbeat time.Time
	rtt           time.Duration
}

// WriteMessage serializes writes to the underlying connection.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// Room owns one authoritative match: the game state, the frame queue feeding
// it, the recorder writing the replay log, and the websocket subscribers.
// All of it is guarded by a single mutex; the tick loop is the only writer of
// the game state.
type Room struct {
	id   string
	seed uint64
	cfg  Config
	deps Deps

	mu            sync.Mutex
	state         *sim.GameState
	queue         *sim.FrameQueue
	recorder      *replay.Recorder
	recording     *bytes.Buffer
	subscribers   map[string]*Subscriber
	pendingJoins  []replay.JoinEvent
	pendingLeaves []string
	archived      bool
}

type bufferCloser struct {
	*bytes.Buffer
}

func (bufferCloser) Close() error { return nil }

// NewRoom creates a lobby-phase room whose replay header is already written.
func NewRoom(id string, seed uint64, cfg Config, deps Deps) (*Room, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultConfig().TickRate
	}
	if cfg.FrameHorizon == 0 {
		cfg.FrameHorizon = DefaultConfig().FrameHorizon
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}

	recording := &bytes.Buffer{}
	header := replay.Header{
		FileType: replay.FileType,
		Version:  buildinfo.Version(),
		MatchID:  id,
		Seed:     seed,
		Settings: cfg.Settings,
	}
	recorder, err := replay.NewRecorder(bufferCloser{recording}, header, cfg.FlushEvery)
	if err != nil {
		return nil, fmt.Errorf("room: start recorder: %w", err)
	}

	return &Room{
		id:          id,
		seed:        seed,
		cfg:         cfg,
		deps:        deps,
		state:       sim.NewGameState(seed, cfg.Settings),
		queue:       sim.NewFrameQueue(cfg.FrameHorizon, deps.Metrics),
		recorder:    recorder,
		recording:   recording,
		subscribers: make(map[string]*Subscriber),
	}, nil
}

func (r *Room) ID() string   { return r.id }
func (r *Room) Seed() uint64 { return r.seed }

// Tick reports the current authoritative tick.
func (r *Room) Tick() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Tick
}

// Phase reports the current match phase.
func (r *Room) Phase() sim.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Phase
}

// Archived reports whether the match ended and its recording was persisted.
func (r *Room) Archived() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.archived
}

// Join admits a player into the lobby. The spawn itself happens at the next
// tick boundary so the RNG draw lands inside the recorded tick stream.
func (r *Room) Join(playerID, name string) (*sim.GameState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Phase != sim.PhaseLobby {
		return nil, ErrMatchStarted
	}
	r.pendingJoins = append(r.pendingJoins, replay.JoinEvent{PlayerID: playerID, Name: name})
	matchlog.PlayerJoined(context.Background(), r.deps.Publisher, r.id, r.state.Tick, playerID)
	return r.state.Clone(), nil
}

// Subscribe attaches a websocket connection to a joined player. An existing
// connection for the same player is displaced.
func (r *Room) Subscribe(playerID string, conn *websocket.Conn) (*Subscriber, *sim.GameState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.knownPlayerLocked(playerID) {
		return nil, nil, false
	}
	if existing, ok := r.subscribers[playerID]; ok {
		existing.conn.Close()
	}
	sub := &Subscriber{conn: conn}
	r.subscribers[playerID] = sub
	return sub, r.state.Clone(), true
}

func (r *Room) knownPlayerLocked(playerID string) bool {
	if _, ok := r.state.Players[playerID]; ok {
		return true
	}
	for _, join := range r.pendingJoins {
		if join.PlayerID == playerID {
			return true
		}
	}
	return false
}

// KnownPlayer reports whether the player is rostered or waiting to spawn.
func (r *Room) KnownPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.knownPlayerLocked(playerID)
}

// Disconnect tears down a player's subscription and schedules the departure
// for the next tick boundary so it lands in the replay log.
func (r *Room) Disconnect(playerID string) {
	r.mu.Lock()
	sub, subOK := r.subscribers[playerID]
	if subOK {
		delete(r.subscribers, playerID)
	}
	if r.knownPlayerLocked(playerID) {
		r.pendingLeaves = append(r.pendingLeaves, playerID)
		matchlog.PlayerLeft(context.Background(), r.deps.Publisher, r.id, r.state.Tick, playerID)
	}
	r.mu.Unlock()

	if subOK {
		sub.conn.Close()
	}
}

// StageFrame queues an input frame for a future tick. The returned reason is
// empty on success and one of the frame queue reject reasons otherwise.
func (r *Room) StageFrame(frame sim.InputFrame) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.knownPlayerLocked(frame.PlayerID) {
		return false, sim.RejectUnknownPlayer
	}
	return r.queue.Stage(frame, r.state.Tick)
}

// RecordHeartbeat stores the latest round-trip measurement for a subscriber.
func (r *Room) RecordHeartbeat(playerID string, rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[playerID]
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.lastHeartbeat = time.Now()
	sub.rtt = rtt
	sub.mu.Unlock()
}

// StaleDrops reports how many frames from a player were dropped as stale.
func (r *Room) StaleDrops(playerID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.StaleDrops(playerID)
}

// PendingFrames reports the number of staged frames awaiting future ticks.
func (r *Room) PendingFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Pending()
}

// Run drives the fixed-rate tick loop until the stop channel closes.
func (r *Room) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state := r.advance()
			if state != nil {
				r.Broadcast(state)
			}
		}
	}
}

// advance runs exactly one tick: pending joins and leaves are applied, the
// staged frames for the new tick are drained, the engine steps, and the
// resulting entry is recorded before anything is broadcast.
func (r *Room) advance() *sim.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.archived {
		return r.state.Clone()
	}

	prevPhase := r.state.Phase
	var aliveBefore map[string]bool
	if prevPhase == sim.PhaseVoting {
		aliveBefore = make(map[string]bool, len(r.state.Players))
		for id, p := range r.state.Players {
			aliveBefore[id] = p.Alive
		}
	}

	var joins []replay.JoinEvent
	for _, join := range r.pendingJoins {
		if r.state.AddPlayer(join.PlayerID, join.Name) {
			joins = append(joins, join)
		}
	}
	r.pendingJoins = nil

	leaves := r.pendingLeaves
	r.pendingLeaves = nil
	for _, id := range leaves {
		r.state.MarkAbsent(id)
	}

	frames := r.queue.Drain(r.state.Tick + 1)
	sim.Step(r.state, frames)

	entry := replay.Entry{Tick: r.state.Tick, Joins: joins, Leaves: leaves, Frames: frames}
	if err := r.recorder.Record(entry); err != nil {
		r.logf("room %s: record tick %d: %v", r.id, r.state.Tick, err)
	}

	r.publishTransitionsLocked(prevPhase, aliveBefore, frames)

	if r.deps.Metrics != nil {
		r.deps.Metrics.Store("room_tick", r.state.Tick)
	}

	if r.state.Phase == sim.PhaseEnded || r.abandonedLocked() {
		r.finishLocked()
	}

	return r.state.Clone()
}

// abandonedLocked reports whether a started match has lost every player. The
// recording is closed at that point; there is nobody left to produce input.
func (r *Room) abandonedLocked() bool {
	if r.state.Phase == sim.PhaseLobby || len(r.state.Players) == 0 {
		return false
	}
	for _, player := range r.state.Players {
		if !player.Absent {
			return false
		}
	}
	return true
}

func (r *Room) publishTransitionsLocked(prevPhase sim.Phase, aliveBefore map[string]bool, frames []sim.InputFrame) {
	ctx := context.Background()
	s := r.state

	if prevPhase == sim.PhaseLobby && s.Phase != sim.PhaseLobby {
		matchlog.Started(ctx, r.deps.Publisher, r.id, s.Tick, matchlog.StartedPayload{
			Players: len(s.Players),
			Seed:    r.seed,
		})
	}

	if prevPhase == sim.PhasePlaying && s.Phase == sim.PhaseVoting {
		reporter := ""
		for _, frame := range frames {
			if frame.Intents.Report {
				reporter = frame.PlayerID
				break
			}
		}
		bodyID := ""
		if len(s.Bodies) > 0 {
			bodyID = s.Bodies[0].PlayerID
		}
		matchlog.MeetingCalled(ctx, r.deps.Publisher, r.id, s.Tick, reporter, bodyID)
	}

	if prevPhase == sim.PhaseVoting && s.Phase != sim.PhaseVoting {
		for id, wasAlive := range aliveBefore {
			player, ok := s.Players[id]
			if ok && wasAlive && !player.Alive {
				matchlog.PlayerEjected(ctx, r.deps.Publisher, r.id, s.Tick, id)
			}
		}
	}

	if s.Phase == sim.PhaseEnded && prevPhase != sim.PhaseEnded {
		matchlog.Ended(ctx, r.deps.Publisher, r.id, s.Tick, matchlog.EndedPayload{
			Winner:    string(s.Winner),
			FinalTick: s.Tick,
		})
	}
}

// finishLocked closes the recording and archives it. Runs at most once.
func (r *Room) finishLocked() {
	if r.archived {
		return
	}
	r.archived = true

	finalTick := r.state.Tick
	if err := r.recorder.Finish(finalTick); err != nil {
		r.logf("room %s: finish recording: %v", r.id, err)
		replaylog.ArchiveFailed(context.Background(), r.deps.Publisher, r.id, err.Error())
		return
	}

	if r.deps.Store == nil {
		return
	}
	info := replay.Info{
		MatchID:      r.id,
		BuildVersion: buildinfo.Version(),
		FinalTick:    finalTick,
		RecordedAt:   time.Now(),
	}
	data := r.recording.Bytes()
	if err := r.deps.Store.SaveReplay(context.Background(), info, data); err != nil {
		r.logf("room %s: archive recording: %v", r.id, err)
		replaylog.ArchiveFailed(context.Background(), r.deps.Publisher, r.id, err.Error())
		return
	}
	replaylog.Archived(context.Background(), r.deps.Publisher, r.id, replaylog.ArchivedPayload{
		FinalTick: finalTick,
		Bytes:     len(data),
	})
}

// Recording exposes the raw replay bytes captured so far.
func (r *Room) Recording() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.recording.Bytes()...)
}

// Snapshot clones the current authoritative state.
func (r *Room) Snapshot() *sim.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Broadcast sends the given state to every subscriber. Connections that fail
// to accept the write are disconnected.
func (r *Room) Broadcast(state *sim.GameState) {
	data, err := encodeState(state)
	if err != nil {
		r.logf("room %s: marshal state: %v", r.id, err)
		return
	}

	r.mu.Lock()
	subs := make(map[string]*Subscriber, len(r.subscribers))
	for id, sub := range r.subscribers {
		subs[id] = sub
	}
	r.mu.Unlock()

	for id, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			r.logf("room %s: send update to %s: %v", r.id, id, err)
			r.Disconnect(id)
		}
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.Add("room_broadcast_bytes", uint64(len(data))*uint64(len(subs)))
	}
}

func encodeState(state *sim.GameState) ([]byte, error) {
	return proto.EncodeState(proto.Snapshot(state, time.Now()))
}

func (r *Room) logf(format string, args ...any) {
	if r.deps.Logger == nil {
		return
	}
	r.deps.Logger.Printf(format, args...)
}
