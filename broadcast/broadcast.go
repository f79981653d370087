// broadcast/broadcast.go
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/aryansinha9/irl-among-us/game"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/network"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/session"
)

var (
	ErrNoSessions = errors.New("no sessions in lobby")
)

// 广播接口
type Broadcaster interface {
	BroadcastToLobby(lobbyID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
}

// Watcher is the subscription side of the lobby store.
type Watcher interface {
	Watch(ctx context.Context, code string, fn func(persistence.Snapshot)) (cancel func(), err error)
}

var _ Broadcaster = (*LobbyBroadcaster)(nil)

type follow struct {
	cancel func()
	latest *persistence.Snapshot
}

// LobbyBroadcaster keeps one store subscription per lobby that has live
// sessions and pushes every snapshot to all of them. Clients keep the
// highest version they have seen.
type LobbyBroadcaster struct {
	watcher        Watcher
	sessionManager *session.Manager
	clock          game.Clock
	mutex          sync.Mutex
	follows        map[string]*follow
}

func NewLobbyBroadcaster(watcher Watcher, sessionManager *session.Manager, clock game.Clock) *LobbyBroadcaster {
	if clock == nil {
		clock = game.SystemClock{}
	}
	return &LobbyBroadcaster{
		watcher:        watcher,
		sessionManager: sessionManager,
		clock:          clock,
		follows:        make(map[string]*follow),
	}
}

// Follow makes sure lobbyID is being watched and sends the newest known
// snapshot to sess. The subscription outlives ctx; Release ends it.
func (b *LobbyBroadcaster) Follow(sess *session.Session, lobbyID string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if f, ok := b.follows[lobbyID]; ok {
		if f.latest != nil {
			b.sendSnapshot([]*session.Session{sess}, *f.latest)
		}
		return nil
	}

	f := &follow{}
	b.follows[lobbyID] = f
	cancel, err := b.watcher.Watch(context.Background(), lobbyID, func(snap persistence.Snapshot) {
		b.push(lobbyID, f, snap)
	})
	if err != nil {
		delete(b.follows, lobbyID)
		return err
	}
	f.cancel = cancel
	logger.Log.Debugw("following lobby", "lobby", lobbyID)
	return nil
}

func (b *LobbyBroadcaster) push(lobbyID string, f *follow, snap persistence.Snapshot) {
	b.mutex.Lock()
	if f.latest != nil && snap.Version <= f.latest.Version {
		// 旧版本直接丢弃
		b.mutex.Unlock()
		return
	}
	f.latest = &snap
	b.mutex.Unlock()

	b.sendSnapshot(b.sessionManager.GetByLobby(lobbyID), snap)
}

func (b *LobbyBroadcaster) sendSnapshot(sessions []*session.Session, snap persistence.Snapshot) {
	data, err := json.Marshal(network.LobbySnapshot{
		Version:    snap.Version,
		ServerTime: game.Millis(b.clock.Now()),
		Lobby:      snap.Lobby,
	})
	if err != nil {
		logger.Log.Errorw("failed to encode snapshot", "version", snap.Version, "error", err)
		return
	}
	for _, s := range sessions {
		if err := s.Send(network.MsgTypeLobbySnapshot, data); err != nil {
			logger.Log.Warnw("snapshot send failed", "session", s.GetID(), "error", err)
		}
	}
}

// Release stops watching lobbyID once no session is bound to it. Sessions
// are bound before Follow, so checking them under b.mutex keeps a concurrent
// Follow from losing its subscription.
func (b *LobbyBroadcaster) Release(lobbyID string) {
	if lobbyID == "" {
		return
	}
	b.mutex.Lock()
	if len(b.sessionManager.GetByLobby(lobbyID)) > 0 {
		b.mutex.Unlock()
		return
	}
	f, ok := b.follows[lobbyID]
	delete(b.follows, lobbyID)
	b.mutex.Unlock()

	if ok && f.cancel != nil {
		f.cancel()
		logger.Log.Debugw("released lobby", "lobby", lobbyID)
	}
}

// Prune releases every followed lobby without sessions and returns how many
// lobbies are still followed.
func (b *LobbyBroadcaster) Prune() int {
	for _, id := range b.Following() {
		b.Release(id)
	}
	return len(b.Following())
}

// Following lists the watched lobbies.
func (b *LobbyBroadcaster) Following() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	ids := make([]string, 0, len(b.follows))
	for id := range b.follows {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every subscription.
func (b *LobbyBroadcaster) Close() {
	b.mutex.Lock()
	follows := b.follows
	b.follows = make(map[string]*follow)
	b.mutex.Unlock()

	for _, f := range follows {
		if f.cancel != nil {
			f.cancel()
		}
	}
}

func (b *LobbyBroadcaster) BroadcastToLobby(lobbyID string, msgID uint16, data []byte) error {
	sessions := b.sessionManager.GetByLobby(lobbyID)
	if len(sessions) == 0 {
		return ErrNoSessions
	}
	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			// 发送失败由读循环发现并清理连接
			logger.Log.Warnw("broadcast send failed", "session", s.GetID(), "lobby", lobbyID, "error", err)
		}
	}
	return nil
}

func (b *LobbyBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, id := range b.sessionManager.Lobbies() {
		if err := b.BroadcastToLobby(id, msgID, data); err != nil && !errors.Is(err, ErrNoSessions) {
			return err
		}
	}
	return nil
}
