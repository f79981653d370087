// state/interfaces.go
package state

import (
	"time"

	"github.com/aryansinha9/irl-among-us/models"
)

// Change is the working copy of one lobby operation. States mutate Lobby in
// place and record the same writes in Updates so the caller can persist the
// delta as a single partial update.
// Lobby 必须是调用方自己的对象（例如刚从存储读出的），不要传入订阅回调拿到的快照
type Change struct {
	Lobby   *models.Lobby
	Updates models.Updates
	Now     time.Time

	From models.LobbyStatus
	To   models.LobbyStatus
}

// NewChange starts a change that mutates l in place.
func NewChange(l *models.Lobby, now time.Time) *Change {
	return &Change{
		Lobby:   l,
		Updates: models.Updates{},
		Now:     now,
		From:    l.Status,
		To:      l.Status,
	}
}

// Set records a field-path write.
func (c *Change) Set(path string, value interface{}) {
	c.Updates.Set(path, value)
}
