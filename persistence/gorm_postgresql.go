// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aryansinha9/irl-among-us/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying changed lobby ids.
const NotifyChannel = "lobby_changes"

// GormPostgreSQL 使用GORM的PostgreSQL实现。大厅文档以 jsonb 保存，
// 每次写入递增版本号并通过 NOTIFY 通知其他节点。
type GormPostgreSQL struct {
	db       *gorm.DB
	hub      *hub
	notifier *PQNotifier
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接，并启动 LISTEN 订阅
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := postgresDSN(host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	p := &GormPostgreSQL{db: db, hub: newHub()}
	notifier, err := NewPQNotifier(dsn, NotifyChannel, p.refresh, p.resync)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	p.notifier = notifier
	return p, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormLobby{},
		&models.GormGameRecord{},
	)
}

func (p *GormPostgreSQL) Get(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var row models.GormLobby
	if err := p.db.WithContext(ctx).Where("lobby_id = ?", lobbyID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeLobby([]byte(row.Document))
}

func (p *GormPostgreSQL) Put(ctx context.Context, lobbyID string, lobby *models.Lobby) error {
	doc, err := encodeLobby(lobby)
	if err != nil {
		return err
	}
	return p.write(ctx, lobbyID, func([]byte, bool) ([]byte, error) { return doc, nil })
}

func (p *GormPostgreSQL) Update(ctx context.Context, lobbyID string, updates models.Updates) error {
	return p.write(ctx, lobbyID, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrRecordNotFound
		}
		return applyUpdates(current, updates)
	})
}

// write 在事务中读改写，行锁保证同一大厅的版本号单调递增
func (p *GormPostgreSQL) write(ctx context.Context, lobbyID string, next func(current []byte, exists bool) ([]byte, error)) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		doc     []byte
		version int64
	)
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.GormLobby
		exists := true
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("lobby_id = ?", lobbyID).First(&row)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			exists = false
			row = models.GormLobby{LobbyID: lobbyID}
		} else if result.Error != nil {
			return result.Error
		}

		var err error
		doc, err = next([]byte(row.Document), exists)
		if err != nil {
			return err
		}
		l, err := decodeLobby(doc)
		if err != nil {
			return err
		}

		row.Document = string(doc)
		row.Status = string(l.Status)
		row.Version++
		version = row.Version
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		// 事务提交后才会真正发出通知
		return tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, lobbyID).Error
	})
	if err != nil {
		return err
	}

	p.hub.publish(lobbyID, version, doc)
	return nil
}

// refresh reloads a lobby after another node changed it.
func (p *GormPostgreSQL) refresh(lobbyID string) {
	if !p.hub.watched(lobbyID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	var row models.GormLobby
	if err := p.db.WithContext(ctx).Where("lobby_id = ?", lobbyID).First(&row).Error; err != nil {
		return
	}
	p.hub.publish(lobbyID, row.Version, []byte(row.Document))
}

func (p *GormPostgreSQL) resync() {
	for _, id := range p.hub.lobbies() {
		p.refresh(id)
	}
}

func (p *GormPostgreSQL) Subscribe(ctx context.Context, lobbyID string, fn func(Snapshot)) (func(), error) {
	sub := p.hub.subscribe(lobbyID, fn)

	qctx, cancel := withTimeout(ctx)
	defer cancel()
	var row models.GormLobby
	if err := p.db.WithContext(qctx).Where("lobby_id = ?", lobbyID).First(&row).Error; err != nil {
		sub.stop()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	sub.offer(row.Version, []byte(row.Document))
	return bind(ctx, sub), nil
}

// SaveGameRecord 保存游戏记录
func (p *GormPostgreSQL) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := models.GormGameRecord{
		LobbyID:   record.LobbyID,
		Winner:    string(record.Winner),
		WinReason: record.WinReason,
		Players:   record.Players,
		EndedAt:   record.EndedAt,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *GormPostgreSQL) ListGameRecords(ctx context.Context, lobbyID string) ([]models.GameRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rows []models.GormGameRecord
	if err := p.db.WithContext(ctx).Where("lobby_id = ?", lobbyID).Order("ended_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

// ListPlayerRecords 使用 jsonb 包含查询按玩家名查找
func (p *GormPostgreSQL) ListPlayerRecords(ctx context.Context, name string) ([]models.GameRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter, err := jsonContainsName(name)
	if err != nil {
		return nil, err
	}
	var rows []models.GormGameRecord
	if err := p.db.WithContext(ctx).Where("players @> ?::jsonb", filter).Order("ended_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func toRecords(rows []models.GormGameRecord) []models.GameRecord {
	out := make([]models.GameRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToRecord())
	}
	return out
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	p.hub.closeAll()
	if p.notifier != nil {
		_ = p.notifier.Close()
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
