package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/aryansinha9/irl-among-us/models"
)

type memoryDoc struct {
	doc     []byte
	version int64
}

// MemoryStore 内存实现，单节点部署和测试使用
type MemoryStore struct {
	mutex   sync.RWMutex
	docs    map[string]*memoryDoc
	records []models.GameRecord
	hub     *hub
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*memoryDoc),
		hub:  newHub(),
	}
}

func (m *MemoryStore) Get(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	d, ok := m.docs[lobbyID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return decodeLobby(d.doc)
}

func (m *MemoryStore) Put(ctx context.Context, lobbyID string, lobby *models.Lobby) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := encodeLobby(lobby)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.write(lobbyID, doc)
}

func (m *MemoryStore) Update(ctx context.Context, lobbyID string, updates models.Updates) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}

	d, ok := m.docs[lobbyID]
	if !ok {
		return ErrRecordNotFound
	}
	doc, err := applyUpdates(d.doc, updates)
	if err != nil {
		return err
	}
	return m.write(lobbyID, doc)
}

// write must be called with the lock held.
func (m *MemoryStore) write(lobbyID string, doc []byte) error {
	d, ok := m.docs[lobbyID]
	if !ok {
		d = &memoryDoc{}
		m.docs[lobbyID] = d
	}
	d.doc = doc
	d.version++
	m.hub.publish(lobbyID, d.version, doc)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, lobbyID string, fn func(Snapshot)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	d, ok := m.docs[lobbyID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	s := m.hub.subscribe(lobbyID, fn)
	s.offer(d.version, d.doc)
	return bind(ctx, s), nil
}

// Lobbies returns every stored lobby id, sorted.
func (m *MemoryStore) Lobbies() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryStore) ListGameRecords(ctx context.Context, lobbyID string) ([]models.GameRecord, error) {
	return m.filterRecords(ctx, func(r models.GameRecord) bool { return r.LobbyID == lobbyID })
}

func (m *MemoryStore) ListPlayerRecords(ctx context.Context, name string) ([]models.GameRecord, error) {
	return m.filterRecords(ctx, func(r models.GameRecord) bool {
		for _, p := range r.Players {
			if p.Name == name {
				return true
			}
		}
		return false
	})
}

func (m *MemoryStore) filterRecords(ctx context.Context, keep func(models.GameRecord) bool) ([]models.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := []models.GameRecord{}
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt.Before(out[j].EndedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mutex.Lock()
	m.closed = true
	m.mutex.Unlock()
	m.hub.closeAll()
	return nil
}
