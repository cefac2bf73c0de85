package session

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/authgate/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLiteStore はSQLiteにセッションを保存するストア。
// 単一ノード構成でRedisを用意できない環境向け。
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite はSQLiteのセッションデータベースを開き、マイグレーションを適用する。
// pathに":memory:"を指定するとインメモリDBになる。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("データベースディレクトリの作成に失敗: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	version, err := migration.Version(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "session database ready",
		slog.String("path", path),
		slog.Int("schema_version", version),
	)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get はセッション状態を取得する。期限切れのものは存在しないものとして扱う。
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Data, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM sessions WHERE id = ? AND expires_at > ?",
		id, s.now().UnixMilli(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}

	var data Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("セッションのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// Set はセッション状態を保存する。あわせて期限切れの行を削除する。
func (s *SQLiteStore) Set(ctx context.Context, id string, data *Data, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("セッションのシリアライズに失敗: %w", err)
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UnixMilli()); err != nil {
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, id, string(raw), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	return nil
}

// Touch は有効期限を延長する。
func (s *SQLiteStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET expires_at = ? WHERE id = ?",
		s.now().Add(ttl).UnixMilli(), id,
	); err != nil {
		return fmt.Errorf("セッション有効期限の更新に失敗: %w", err)
	}
	return nil
}

// Destroy はセッション状態を削除する。
func (s *SQLiteStore) Destroy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
