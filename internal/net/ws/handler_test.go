package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"airlock/server/internal/net/proto"
	"airlock/server/internal/replay"
	"airlock/server/internal/room"
)

func newTestHub(t *testing.T) *room.Hub {
	t.Helper()
	store, err := replay.OpenStore(filepath.Join(t.TempDir(), "replays.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := room.NewHub(room.DefaultConfig(), room.Deps{Store: store})
	t.Cleanup(hub.Close)
	return hub
}

func dialPlayer(t *testing.T, srv *httptest.Server, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?id=" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessageOfType skips broadcast state frames until a message of the
// wanted type arrives.
func readMessageOfType(t *testing.T, conn *websocket.Conn, wanted string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed waiting for %q: %v", wanted, err)
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			t.Fatalf("unparseable message: %v", err)
		}
		if envelope.Type == wanted {
			return payload
		}
	}
	t.Fatalf("no %q message before deadline", wanted)
	return nil
}

func TestSessionReceivesInitialState(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	join, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dialPlayer(t, srv, join.ID)
	payload := readMessageOfType(t, conn, proto.TypeState)

	var state proto.StateMessage
	if err := json.Unmarshal(payload, &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.Ver != proto.Version {
		t.Fatalf("unexpected protocol version %d", state.Ver)
	}
}

func TestSessionRejectsStaleFrame(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	join, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dialPlayer(t, srv, join.ID)
	readMessageOfType(t, conn, proto.TypeState)

	// Tick zero is always at or behind the current simulation tick.
	stale := []byte(`{"ver":1,"type":"input","t":0,"dx":1}`)
	if err := conn.WriteMessage(websocket.TextMessage, stale); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	payload := readMessageOfType(t, conn, proto.TypeFrameReject)
	var reject proto.FrameRejectMessage
	if err := json.Unmarshal(payload, &reject); err != nil {
		t.Fatalf("failed to decode reject: %v", err)
	}
	if reject.Reason != "stale_input" {
		t.Fatalf("unexpected reject reason %q", reject.Reason)
	}
	if reject.FrameTick != 0 {
		t.Fatalf("unexpected frame tick %d", reject.FrameTick)
	}
}

func TestSessionAnswersHeartbeat(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	join, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dialPlayer(t, srv, join.ID)
	readMessageOfType(t, conn, proto.TypeState)

	sentAt := time.Now().UnixMilli()
	ping := []byte(`{"ver":1,"type":"heartbeat","sentAt":` + strconv.FormatInt(sentAt, 10) + `}`)
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	payload := readMessageOfType(t, conn, proto.TypeHeartbeat)
	var pong proto.HeartbeatMessage
	if err := json.Unmarshal(payload, &pong); err != nil {
		t.Fatalf("failed to decode heartbeat: %v", err)
	}
	if pong.ClientTime != sentAt {
		t.Fatalf("heartbeat echoed %d, want %d", pong.ClientTime, sentAt)
	}
	if pong.ServerTime == 0 {
		t.Fatalf("heartbeat carried no server timestamp")
	}
	if pong.RTTMillis != 0 {
		t.Fatalf("first heartbeat has no echo to measure, got rtt %d", pong.RTTMillis)
	}
}

func TestHeartbeatMeasuresRoundTripOnServerClock(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	join, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dialPlayer(t, srv, join.ID)
	readMessageOfType(t, conn, proto.TypeState)

	ping := []byte(`{"ver":1,"type":"heartbeat","sentAt":1}`)
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var first proto.HeartbeatMessage
	if err := json.Unmarshal(readMessageOfType(t, conn, proto.TypeHeartbeat), &first); err != nil {
		t.Fatalf("failed to decode heartbeat: %v", err)
	}

	// Echo a server timestamp backdated by 40ms. The measured round trip
	// must come from the server clock, so it covers at least that gap no
	// matter what the client claims in sentAt.
	echo := first.ServerTime - 40
	ping = []byte(`{"ver":1,"type":"heartbeat","sentAt":999999999999999,"serverTime":` +
		strconv.FormatInt(echo, 10) + `}`)
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var second proto.HeartbeatMessage
	if err := json.Unmarshal(readMessageOfType(t, conn, proto.TypeHeartbeat), &second); err != nil {
		t.Fatalf("failed to decode heartbeat: %v", err)
	}
	if second.RTTMillis < 40 {
		t.Fatalf("expected rtt of at least 40ms from the backdated echo, got %d", second.RTTMillis)
	}
}

func TestSessionClosesForUnknownPlayer(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn := dialPlayer(t, srv, "ghost")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected close for unknown player")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestHandleRequiresPlayerID(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
