// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormLobby 大厅文档表，整份 Lobby 以 jsonb 保存
type GormLobby struct {
	LobbyID   string `gorm:"primaryKey;size:8"`
	Document  string `gorm:"type:jsonb;not null"`
	Version   int64  `gorm:"not null;default:0"`
	Status    string `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GormLobby) TableName() string { return "lobbies" }

// GormGameRecord 游戏记录模型
type GormGameRecord struct {
	gorm.Model
	LobbyID   string       `gorm:"index;not null"`
	Winner    string       `gorm:"not null"`
	WinReason string       `gorm:"not null"`
	Players   []PlayerInfo `gorm:"type:jsonb;serializer:json;not null"`
	EndedAt   time.Time    `gorm:"index"`
}

func (GormGameRecord) TableName() string { return "game_records" }

// ToRecord converts the row back to the domain record.
func (r GormGameRecord) ToRecord() GameRecord {
	return GameRecord{
		LobbyID:   r.LobbyID,
		Winner:    Winner(r.Winner),
		WinReason: r.WinReason,
		Players:   r.Players,
		EndedAt:   r.EndedAt,
	}
}
