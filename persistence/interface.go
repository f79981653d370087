// persistence/interface.go
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aryansinha9/irl-among-us/models"
)

// DefaultTimeout bounds a single store operation when the caller has no deadline.
const DefaultTimeout = 5 * time.Second

// Snapshot is one version of a lobby document as seen by subscribers.
type Snapshot struct {
	Version int64
	Lobby   *models.Lobby
}

// Store 共享大厅文档存储：读、整体写、按字段路径部分写、实时订阅
type Store interface {
	Get(ctx context.Context, lobbyID string) (*models.Lobby, error)
	Put(ctx context.Context, lobbyID string, lobby *models.Lobby) error
	// Update applies every field path or none. Each path's parent object
	// must already exist.
	Update(ctx context.Context, lobbyID string, updates models.Updates) error
	// Subscribe delivers the current snapshot and then newer ones in version
	// order until cancel is called or ctx is done. Intermediate versions may
	// be skipped; a slow callback never blocks writers.
	Subscribe(ctx context.Context, lobbyID string, fn func(Snapshot)) (cancel func(), err error)
	Close() error
}

// Recorder 游戏记录存储
type Recorder interface {
	SaveGameRecord(ctx context.Context, record models.GameRecord) error
	ListGameRecords(ctx context.Context, lobbyID string) ([]models.GameRecord, error)
	ListPlayerRecords(ctx context.Context, name string) ([]models.GameRecord, error)
}

// Database is a store that also keeps game history.
type Database interface {
	Store
	Recorder
}

// 错误定义
var (
	ErrRecordNotFound  = fmt.Errorf("record not found")
	ErrInvalidDocument = fmt.Errorf("invalid lobby document")
	ErrClosed          = fmt.Errorf("store closed")
)

// withTimeout applies DefaultTimeout unless ctx already carries a deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
