// Package history keeps the per-channel conversation sent to the language
// model. Persistent mode stores it in SQLite; ephemeral mode keeps it in
// memory for the life of the process.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-voicechat/internal/config"
)

// Message is one stored conversation turn.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store holds conversation history per channel.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time

	mu  sync.Mutex
	mem map[string][]Message
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now, mem: make(map[string][]Message)}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slogError(err))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slogError(err))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS channels (
    channel_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(channel_id) REFERENCES channels(channel_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages(channel_id, id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append adds msgs to channel in order.
func (s *Store) Append(ctx context.Context, channel string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := s.clock().UTC()
	for i := range msgs {
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}

	if s.db == nil {
		s.mu.Lock()
		s.mem[channel] = append(s.mem[channel], msgs...)
		s.mu.Unlock()
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channels(channel_id, created_at, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET updated_at=excluded.updated_at`,
		channel, now.UnixNano(), now.UnixNano()); err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages(channel_id, role, content, created_at) VALUES(?, ?, ?, ?)`,
			channel, m.Role, m.Content, m.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit of the newest messages for channel, oldest
// first. A limit of zero or less returns everything.
func (s *Store) Recent(ctx context.Context, channel string, limit int) ([]Message, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		msgs := s.mem[channel]
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		return append([]Message(nil), msgs...), nil
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE channel_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, created).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Trim drops all but the newest keep messages of channel.
func (s *Store) Trim(ctx context.Context, channel string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if msgs := s.mem[channel]; len(msgs) > keep {
			s.mem[channel] = append([]Message(nil), msgs[len(msgs)-keep:]...)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE channel_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE channel_id = ? ORDER BY id DESC LIMIT ?
		 )`, channel, channel, keep)
	return err
}

// Clear forgets channel entirely.
func (s *Store) Clear(ctx context.Context, channel string) error {
	if s.db == nil {
		s.mu.Lock()
		delete(s.mem, channel)
		s.mu.Unlock()
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, channel)
	return err
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM channels WHERE updated_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxChannels > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM channels WHERE channel_id IN (
			SELECT channel_id FROM channels ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxChannels)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Healthy reports whether the backing database answers.
func (s *Store) Healthy(ctx context.Context) bool {
	if s.db == nil {
		return true
	}
	return s.db.PingContext(ctx) == nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
