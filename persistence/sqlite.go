package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aryansinha9/irl-among-us/models"
	_ "modernc.org/sqlite" // SQLite 驱动
)

// SQLiteStore 基于 SQLite 文件的单节点实现。订阅只在本进程内推送。
type SQLiteStore struct {
	db  *sql.DB
	hub *hub
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接串行化读改写，也让 :memory: 数据库在连接之间共享
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := initSQLiteTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return &SQLiteStore{db: db, hub: newHub()}, nil
}

// initSQLiteTables 初始化数据库表结构
func initSQLiteTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS lobbies (
            lobby_id TEXT PRIMARY KEY,
            document TEXT NOT NULL,
            version INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            updated_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS game_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            lobby_id TEXT NOT NULL,
            winner TEXT NOT NULL,
            win_reason TEXT NOT NULL,
            players TEXT NOT NULL,
            ended_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_game_records_lobby_id ON game_records(lobby_id)`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM lobbies WHERE lobby_id = ?`, lobbyID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeLobby(doc)
}

func (s *SQLiteStore) Put(ctx context.Context, lobbyID string, lobby *models.Lobby) error {
	doc, err := encodeLobby(lobby)
	if err != nil {
		return err
	}
	return s.write(ctx, lobbyID, func([]byte, bool) ([]byte, error) { return doc, nil })
}

func (s *SQLiteStore) Update(ctx context.Context, lobbyID string, updates models.Updates) error {
	return s.write(ctx, lobbyID, func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrRecordNotFound
		}
		return applyUpdates(current, updates)
	})
}

// write runs one read-modify-write in a transaction and publishes the result.
func (s *SQLiteStore) write(ctx context.Context, lobbyID string, next func(current []byte, exists bool) ([]byte, error)) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		current []byte
		version int64
		exists  = true
	)
	err = tx.QueryRowContext(ctx, `SELECT document, version FROM lobbies WHERE lobby_id = ?`, lobbyID).Scan(&current, &version)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return err
	}

	doc, err := next(current, exists)
	if err != nil {
		return err
	}
	l, err := decodeLobby(doc)
	if err != nil {
		return err
	}

	version++
	_, err = tx.ExecContext(ctx, `
        INSERT INTO lobbies (lobby_id, document, version, status, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (lobby_id)
        DO UPDATE SET document = excluded.document, version = excluded.version,
                      status = excluded.status, updated_at = excluded.updated_at
    `, lobbyID, string(doc), version, string(l.Status), time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.hub.publish(lobbyID, version, doc)
	return nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, lobbyID string, fn func(Snapshot)) (func(), error) {
	sub := s.hub.subscribe(lobbyID, fn)

	qctx, cancel := withTimeout(ctx)
	defer cancel()
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRowContext(qctx, `SELECT document, version FROM lobbies WHERE lobby_id = ?`, lobbyID).Scan(&doc, &version)
	if err != nil {
		sub.stop()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	sub.offer(version, doc)
	return bind(ctx, sub), nil
}

func (s *SQLiteStore) SaveGameRecord(ctx context.Context, record models.GameRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	players, err := json.Marshal(record.Players)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO game_records (lobby_id, winner, win_reason, players, ended_at) VALUES (?, ?, ?, ?, ?)`,
		record.LobbyID, string(record.Winner), record.WinReason, string(players), record.EndedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) ListGameRecords(ctx context.Context, lobbyID string) ([]models.GameRecord, error) {
	return s.queryRecords(ctx, `
        SELECT lobby_id, winner, win_reason, players, ended_at FROM game_records
        WHERE lobby_id = ? ORDER BY ended_at, id`, lobbyID)
}

func (s *SQLiteStore) ListPlayerRecords(ctx context.Context, name string) ([]models.GameRecord, error) {
	return s.queryRecords(ctx, `
        SELECT lobby_id, winner, win_reason, players, ended_at FROM game_records
        WHERE EXISTS (SELECT 1 FROM json_each(game_records.players) WHERE json_extract(value, '$.name') = ?)
        ORDER BY ended_at, id`, name)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, arg string) ([]models.GameRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.GameRecord{}
	for rows.Next() {
		var (
			r       models.GameRecord
			winner  string
			players string
			endedAt int64
		)
		if err := rows.Scan(&r.LobbyID, &winner, &r.WinReason, &players, &endedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &r.Players); err != nil {
			return nil, fmt.Errorf("decode players: %w", err)
		}
		r.Winner = models.Winner(winner)
		r.EndedAt = time.UnixMilli(endedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}
