// persistence/postgresql.go
package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/lib/pq" // PostgreSQL 驱动
)

func postgresDSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// jsonContainsName builds the jsonb containment filter matching a player name.
func jsonContainsName(name string) (string, error) {
	data, err := json.Marshal([]map[string]string{{"name": name}})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PQNotifier 通过 LISTEN/NOTIFY 接收其他节点的大厅变更
type PQNotifier struct {
	listener *pq.Listener
	done     chan struct{}
}

// NewPQNotifier listens on channel and calls onNotify with each payload.
// Notifications sent while the connection was down are lost, so onReconnect
// is called after every reconnect.
func NewPQNotifier(connStr, channel string, onNotify func(lobbyID string), onReconnect func()) (*PQNotifier, error) {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.Warnw("postgres listener event", "event", ev, "error", err)
		}
	}
	listener := pq.NewListener(connStr, 10*time.Second, time.Minute, report)
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	n := &PQNotifier{listener: listener, done: make(chan struct{})}
	go n.loop(onNotify, onReconnect)
	return n, nil
}

func (n *PQNotifier) loop(onNotify func(lobbyID string), onReconnect func()) {
	for {
		select {
		case <-n.done:
			return
		case note, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			if note == nil {
				// 重连后可能丢失通知
				logger.Log.Warn("postgres listener reconnected")
				if onReconnect != nil {
					onReconnect()
				}
				continue
			}
			onNotify(note.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := n.listener.Ping(); err != nil {
					logger.Log.Warnw("postgres listener ping failed", "error", err)
				}
			}()
		}
	}
}

// Close 关闭监听连接
func (n *PQNotifier) Close() error {
	close(n.done)
	return n.listener.Close()
}
