package persistence

import (
	"context"
	"sync"

	"github.com/aryansinha9/irl-among-us/logger"
)

// hub fans document versions out to subscribers. Each subscriber keeps only
// the newest pending version, so a slow callback skips versions instead of
// holding up the writer.
type hub struct {
	mutex sync.Mutex
	subs  map[string]map[uint64]*subscriber
	next  uint64
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[uint64]*subscriber)}
}

type pending struct {
	version int64
	doc     []byte
}

type subscriber struct {
	lobbyID   string
	fn        func(Snapshot)
	mutex     sync.Mutex
	latest    *pending
	delivered int64
	notify    chan struct{}
	done      chan struct{}
	once      sync.Once
}

func (s *subscriber) offer(version int64, doc []byte) {
	s.mutex.Lock()
	if s.latest == nil || version > s.latest.version {
		s.latest = &pending{version: version, doc: doc}
	}
	s.mutex.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		select {
		case <-s.done:
			return
		default:
		}

		s.mutex.Lock()
		p := s.latest
		s.latest = nil
		s.mutex.Unlock()
		if p == nil || p.version <= s.delivered {
			continue
		}

		l, err := decodeLobby(p.doc)
		if err != nil {
			logger.Log.Errorw("dropping undecodable snapshot", "lobby", s.lobbyID, "version", p.version, "error", err)
			continue
		}
		s.delivered = p.version
		s.fn(Snapshot{Version: p.version, Lobby: l})
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// subscribe registers fn for lobbyID and starts its delivery goroutine.
func (h *hub) subscribe(lobbyID string, fn func(Snapshot)) *subscriber {
	s := &subscriber{
		lobbyID: lobbyID,
		fn:      fn,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mutex.Lock()
	h.next++
	id := h.next
	if h.subs[lobbyID] == nil {
		h.subs[lobbyID] = make(map[uint64]*subscriber)
	}
	h.subs[lobbyID][id] = s
	h.mutex.Unlock()

	go s.run()
	go func() {
		<-s.done
		h.mutex.Lock()
		delete(h.subs[lobbyID], id)
		if len(h.subs[lobbyID]) == 0 {
			delete(h.subs, lobbyID)
		}
		h.mutex.Unlock()
	}()
	return s
}

func (h *hub) publish(lobbyID string, version int64, doc []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, s := range h.subs[lobbyID] {
		s.offer(version, doc)
	}
}

// watched reports whether anyone is subscribed to lobbyID.
func (h *hub) watched(lobbyID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subs[lobbyID]) > 0
}

// lobbies lists every lobby with at least one subscriber.
func (h *hub) lobbies() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

func (h *hub) closeAll() {
	h.mutex.Lock()
	var all []*subscriber
	for _, subs := range h.subs {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.mutex.Unlock()
	for _, s := range all {
		s.stop()
	}
}

// bind stops s when ctx is done and returns its cancel func.
func bind(ctx context.Context, s *subscriber) func() {
	go func() {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.done:
		}
	}()
	return s.stop
}
