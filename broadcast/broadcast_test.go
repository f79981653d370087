package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/aryansinha9/irl-among-us/game"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/network"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/session"
)

type MockConnection struct {
	mutex sync.Mutex
	sent  []network.Packet
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sent = append(m.sent, network.Packet{MsgID: msgID, Data: data})
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) snapshots(t *testing.T) []network.LobbySnapshot {
	t.Helper()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []network.LobbySnapshot
	for _, p := range m.sent {
		if p.MsgID != network.MsgTypeLobbySnapshot {
			continue
		}
		var snap network.LobbySnapshot
		if err := json.Unmarshal(p.Data, &snap); err != nil {
			t.Fatalf("bad snapshot body: %v", err)
		}
		out = append(out, snap)
	}
	return out
}

// MockWatcher hands the subscription callback back to the test.
type MockWatcher struct {
	fns       map[string]func(persistence.Snapshot)
	cancelled map[string]bool
	err       error
}

func newMockWatcher() *MockWatcher {
	return &MockWatcher{fns: map[string]func(persistence.Snapshot){}, cancelled: map[string]bool{}}
}

func (w *MockWatcher) Watch(_ context.Context, code string, fn func(persistence.Snapshot)) (func(), error) {
	if w.err != nil {
		return nil, w.err
	}
	w.fns[code] = fn
	return func() { w.cancelled[code] = true }, nil
}

func bound(sm *session.Manager, id, lobbyID string) (*session.Session, *MockConnection) {
	conn := &MockConnection{}
	s := session.NewSession(id, conn)
	s.Bind(lobbyID, id)
	sm.Add(s)
	return s, conn
}

func TestLobbyBroadcaster_PushesSnapshots(t *testing.T) {
	sm := session.NewManager()
	watcher := newMockWatcher()
	clock := game.NewFixedClock(time.UnixMilli(5000))
	b := NewLobbyBroadcaster(watcher, sm, clock)

	s1, c1 := bound(sm, "p1", "ABCD")
	_, c2 := bound(sm, "p2", "ABCD")
	_, other := bound(sm, "p3", "WXYZ")

	if err := b.Follow(s1, "ABCD"); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	watcher.fns["ABCD"](persistence.Snapshot{Version: 3, Lobby: &models.Lobby{ID: "ABCD", Status: models.StatusWaiting}})

	for name, conn := range map[string]*MockConnection{"p1": c1, "p2": c2} {
		snaps := conn.snapshots(t)
		if len(snaps) != 1 {
			t.Fatalf("Expected 1 snapshot for %s, got %d", name, len(snaps))
		}
		if snaps[0].Version != 3 || snaps[0].Lobby.ID != "ABCD" || snaps[0].ServerTime != 5000 {
			t.Errorf("Unexpected snapshot for %s: %+v", name, snaps[0])
		}
	}
	if len(other.snapshots(t)) != 0 {
		t.Error("Expected no snapshot for a session in another lobby")
	}
}

func TestLobbyBroadcaster_LateFollowerGetsLatest(t *testing.T) {
	sm := session.NewManager()
	watcher := newMockWatcher()
	b := NewLobbyBroadcaster(watcher, sm, nil)

	s1, c1 := bound(sm, "p1", "ABCD")
	_ = b.Follow(s1, "ABCD")
	watcher.fns["ABCD"](persistence.Snapshot{Version: 7, Lobby: &models.Lobby{ID: "ABCD"}})
	watcher.fns["ABCD"](persistence.Snapshot{Version: 6, Lobby: &models.Lobby{ID: "ABCD"}})
	if got := len(c1.snapshots(t)); got != 1 {
		t.Errorf("Expected the stale version to be dropped, got %d snapshots", got)
	}

	s2, c2 := bound(sm, "p2", "ABCD")
	if err := b.Follow(s2, "ABCD"); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	snaps := c2.snapshots(t)
	if len(snaps) != 1 || snaps[0].Version != 7 {
		t.Errorf("Expected the late follower to get version 7, got %+v", snaps)
	}
}

func TestLobbyBroadcaster_Release(t *testing.T) {
	sm := session.NewManager()
	watcher := newMockWatcher()
	b := NewLobbyBroadcaster(watcher, sm, nil)

	s1, _ := bound(sm, "p1", "ABCD")
	_ = b.Follow(s1, "ABCD")

	// still bound: nothing happens
	b.Release("ABCD")
	if watcher.cancelled["ABCD"] {
		t.Fatal("Expected the subscription to stay while a session is bound")
	}

	sm.Remove(s1.ID)
	if n := b.Prune(); n != 0 {
		t.Errorf("Expected no followed lobbies after prune, got %d", n)
	}
	if !watcher.cancelled["ABCD"] {
		t.Error("Expected the subscription to be cancelled")
	}
}

func TestLobbyBroadcaster_ReleaseRacingFollow(t *testing.T) {
	sm := session.NewManager()
	watcher := newMockWatcher()
	b := NewLobbyBroadcaster(watcher, sm, nil)

	s1, _ := bound(sm, "p1", "ABCD")
	_ = b.Follow(s1, "ABCD")
	sm.Remove(s1.ID)

	// Release queues on the lock while a new session binds to the lobby.
	b.mutex.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Release("ABCD")
	}()
	time.Sleep(20 * time.Millisecond)
	s2, _ := bound(sm, "p2", "ABCD")
	b.mutex.Unlock()

	if err := b.Follow(s2, "ABCD"); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	wg.Wait()

	if watcher.cancelled["ABCD"] {
		t.Error("Expected the subscription to survive while p2 is bound")
	}
	if following := b.Following(); len(following) != 1 || following[0] != "ABCD" {
		t.Errorf("Expected ABCD to stay followed, got %v", following)
	}
}

func TestLobbyBroadcaster_FollowError(t *testing.T) {
	sm := session.NewManager()
	watcher := newMockWatcher()
	watcher.err = errors.New("lobby not found")
	b := NewLobbyBroadcaster(watcher, sm, nil)

	s1, _ := bound(sm, "p1", "NONE")
	if err := b.Follow(s1, "NONE"); err == nil {
		t.Fatal("Expected Follow to fail")
	}
	if len(b.Following()) != 0 {
		t.Error("Expected a failed follow not to be kept")
	}
}

func TestLobbyBroadcaster_BroadcastToAll(t *testing.T) {
	sm := session.NewManager()
	b := NewLobbyBroadcaster(newMockWatcher(), sm, nil)
	_, c1 := bound(sm, "p1", "ABCD")
	_, c2 := bound(sm, "p2", "WXYZ")

	if err := b.BroadcastToLobby("QQQQ", network.MsgTypeError, nil); !errors.Is(err, ErrNoSessions) {
		t.Errorf("Expected ErrNoSessions, got %v", err)
	}
	if err := b.BroadcastToAll(network.MsgTypeError, []byte(`{}`)); err != nil {
		t.Fatalf("BroadcastToAll failed: %v", err)
	}
	if len(c1.sent) != 1 || len(c2.sent) != 1 {
		t.Errorf("Expected one message per session, got %d and %d", len(c1.sent), len(c2.sent))
	}
}
