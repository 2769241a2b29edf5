// Package history archives chat messages to a local sqlite database so
// sessions can be reviewed after the stream ends. It implements
// livesync.Recorder.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/udu/livesync/pkg/livesync"
	"github.com/udu/livesync/pkg/log"
)

// Store is the sqlite-backed chat archive.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open creates or opens the archive at dbPath, creating parent directories
// as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS chat_messages (
		id      TEXT PRIMARY KEY,
		room    TEXT NOT NULL,
		author  TEXT NOT NULL,
		text    TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_room_sent
		ON chat_messages(room, sent_at);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &Store{db: db, logger: log.ForComponent("history")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record archives one chat message. Messages are keyed by their wire id;
// re-delivered messages are ignored, which keeps the archive idempotent
// across reconnect replays.
func (s *Store) Record(roomID string, msg livesync.ChatMessage) error {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO chat_messages (id, room, author, text, sent_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, roomID, msg.Author, msg.Text, sentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("archiving message %s: %w", msg.ID, err)
	}
	return nil
}

// Recent returns up to limit archived messages for roomID, oldest first.
func (s *Store) Recent(roomID string, limit int) ([]livesync.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, author, text, sent_at FROM chat_messages
		 WHERE room = ?
		 ORDER BY sent_at DESC, id DESC
		 LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", roomID, err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []livesync.ChatMessage
	for rows.Next() {
		var m livesync.ChatMessage
		if err := rows.Scan(&m.ID, &m.Author, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		m.Origin = livesync.OriginRemote
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}

	// Rows come back newest first; flip to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Rooms lists the rooms with archived chat, most recently active first.
func (s *Store) Rooms() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT room FROM chat_messages
		 GROUP BY room
		 ORDER BY MAX(sent_at) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
