package room

import (
	"testing"
	"time"

	"airlock/server/internal/sim"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testConfig(), Deps{Store: openTestStore(t)})
	t.Cleanup(hub.Close)
	return hub
}

// waitFor polls until the condition holds or the deadline passes. Room loops
// run on their own tickers, so hub tests observe them with bounded waits.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubJoinsShareLobby(t *testing.T) {
	hub := newTestHub(t)

	first, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	second, err := hub.Join("bob")
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	if first.MatchID != second.MatchID {
		t.Fatalf("joins landed in different matches: %s vs %s", first.MatchID, second.MatchID)
	}
	if first.ID == second.ID {
		t.Fatalf("player ids collide: %s", first.ID)
	}
	if _, ok := hub.RoomFor(first.ID); !ok {
		t.Fatalf("hub lost player %s", first.ID)
	}
	if _, ok := hub.Room(first.MatchID); !ok {
		t.Fatalf("hub lost match %s", first.MatchID)
	}
}

func TestHubOpensNewLobbyAfterMatchStarts(t *testing.T) {
	hub := newTestHub(t)

	first, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, err := hub.Join("bob"); err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	match, ok := hub.Room(first.MatchID)
	if !ok {
		t.Fatalf("hub lost match %s", first.MatchID)
	}
	waitFor(t, "players to spawn", func() bool {
		return len(match.Snapshot().Players) == 2
	})

	waitFor(t, "match to start", func() bool {
		if match.Phase() != sim.PhaseLobby {
			return true
		}
		match.StageFrame(sim.InputFrame{
			PlayerID: first.ID,
			Tick:     match.Tick() + 2,
			Intents:  sim.Intents{Play: true},
		})
		return false
	})

	third, err := hub.Join("carol")
	if err != nil {
		t.Fatalf("late join failed: %v", err)
	}
	if third.MatchID == first.MatchID {
		t.Fatalf("late join landed in the started match %s", first.MatchID)
	}
}

func TestHubJoinResponseCarriesSettings(t *testing.T) {
	hub := newTestHub(t)

	join, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if join.ID == "" || join.MatchID == "" || join.BuildVersion == "" {
		t.Fatalf("incomplete join response: %+v", join)
	}
	if join.Settings.KillDistance != testConfig().Settings.KillDistance {
		t.Fatalf("join settings diverge from hub settings")
	}
}

func TestHubForgetsLobbyLeavers(t *testing.T) {
	hub := newTestHub(t)

	first, err := hub.Join("alice")
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	second, err := hub.Join("bob")
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	match, ok := hub.Room(first.MatchID)
	if !ok {
		t.Fatalf("hub lost match %s", first.MatchID)
	}
	waitFor(t, "players to spawn", func() bool {
		return len(match.Snapshot().Players) == 2
	})

	match.Disconnect(first.ID)
	waitFor(t, "leaver to drop from the lobby roster", func() bool {
		_, present := match.Snapshot().Players[first.ID]
		return !present
	})

	// Any later join prunes mappings the lobby no longer backs.
	if _, err := hub.Join("carol"); err != nil {
		t.Fatalf("third join failed: %v", err)
	}
	if _, ok := hub.RoomFor(first.ID); ok {
		t.Fatalf("hub still maps lobby leaver %s", first.ID)
	}
	if _, ok := hub.RoomFor(second.ID); !ok {
		t.Fatalf("hub forgot player %s who never left", second.ID)
	}
}
