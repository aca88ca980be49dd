package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"botbridge/internal/domain"
)

// SQLiteSessionStore implements domain.SessionStore using SQLite.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens (or creates) a SQLite database at dbPath and
// runs the schema migration.
func NewSQLiteSessionStore(dbPath string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			platform         TEXT NOT NULL,
			platform_user_id TEXT NOT NULL,
			channel_id       TEXT NOT NULL DEFAULT '',
			conversation_id  TEXT NOT NULL DEFAULT '',
			linked           INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			PRIMARY KEY (platform, platform_user_id, channel_id)
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteSessionStore) Get(_ context.Context, platform domain.Platform, platformUserID, channelID string) (*domain.Session, error) {
	row := s.db.QueryRow(`
		SELECT platform, platform_user_id, channel_id, conversation_id, linked, created_at, updated_at
		FROM sessions WHERE platform = ? AND platform_user_id = ? AND channel_id = ?`,
		string(platform), platformUserID, channelID,
	)

	var sess domain.Session
	var p, createdStr, updatedStr string
	var linked int
	err := row.Scan(&p, &sess.PlatformUserID, &sess.ChannelID, &sess.ConversationID, &linked, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Platform = domain.Platform(p)
	sess.Linked = linked != 0
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &sess, nil
}

func (s *SQLiteSessionStore) SetConversation(_ context.Context, platform domain.Platform, platformUserID, channelID, conversationID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO sessions (platform, platform_user_id, channel_id, conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform, platform_user_id, channel_id)
		DO UPDATE SET conversation_id = excluded.conversation_id, updated_at = excluded.updated_at`,
		string(platform), platformUserID, channelID, conversationID, now, now,
	)
	return err
}

func (s *SQLiteSessionStore) SetLinked(_ context.Context, platform domain.Platform, platformUserID string, linked bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	val := 0
	if linked {
		val = 1
	}
	res, err := s.db.Exec(
		"UPDATE sessions SET linked = ?, updated_at = ? WHERE platform = ? AND platform_user_id = ?",
		val, now, string(platform), platformUserID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// No session yet for this user. Record the link state against a
		// DM-scoped row so it is not lost.
		_, err = s.db.Exec(`
			INSERT INTO sessions (platform, platform_user_id, channel_id, linked, created_at, updated_at)
			VALUES (?, ?, '', ?, ?, ?)`,
			string(platform), platformUserID, val, now, now,
		)
	}
	return err
}

var _ domain.SessionStore = (*SQLiteSessionStore)(nil)
