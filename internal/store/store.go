// Package store is the durable side of the chat service: users, friendship
// edges and persisted messages, backed by sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: already exists")
)

// Friendship statuses. Only accepted edges authorize message exchange.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Friend is one side of an accepted or pending friendship edge.
type Friend struct {
	UserID   int64
	Username string
	Status   string
	Since    time.Time
}

// Message is a persisted chat message. Immutable once written.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	Timestamp  time.Time
}

// Store wraps the sqlite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			receiver_id INTEGER NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			UNIQUE(sender_id, receiver_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			receiver_id INTEGER NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_receiver ON friendships(receiver_id, status)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new account. Returns ErrDuplicate when the username or
// email is already registered.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		username, email, passwordHash, formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("create user id: %w", err)
	}
	return User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// UserByUsername fetches an account by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?", username))
}

// UserByID fetches an account by id.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?", id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// CreateFriendRequest records a pending edge from sender to receiver. Returns
// ErrDuplicate when an edge already exists in either direction.
func (s *Store) CreateFriendRequest(ctx context.Context, senderID, receiverID int64) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM friendships
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
		senderID, receiverID, receiverID, senderID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if count > 0 {
		return ErrDuplicate
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO friendships (sender_id, receiver_id, status, created_at) VALUES (?, ?, ?, ?)",
		senderID, receiverID, StatusPending, formatTime(time.Now().UTC()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create friend request: %w", err)
	}
	return nil
}

// RespondFriendRequest resolves the pending request sent by senderID to
// userID. Returns ErrNotFound when no such pending request exists.
func (s *Store) RespondFriendRequest(ctx context.Context, userID, senderID int64, accept bool) error {
	status := StatusDeclined
	if accept {
		status = StatusAccepted
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE friendships SET status = ? WHERE sender_id = ? AND receiver_id = ? AND status = ?",
		status, senderID, userID, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("respond friend request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("respond friend request: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveFriend deletes the accepted edge between the two users. Returns
// ErrNotFound when they are not friends.
func (s *Store) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friendships
		 WHERE status = ? AND
		       ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
		StatusAccepted, userID, friendID, friendID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Friends lists the accepted friendships of userID with the counterparty's
// username resolved.
func (s *Store) Friends(ctx context.Context, userID int64) ([]Friend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN f.sender_id = ? THEN f.receiver_id ELSE f.sender_id END AS friend_id,
		        u.username, f.status, f.created_at
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.sender_id = ? THEN f.receiver_id ELSE f.sender_id END
		 WHERE f.status = ? AND (f.sender_id = ? OR f.receiver_id = ?)
		 ORDER BY u.username`,
		userID, userID, StatusAccepted, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()
	return scanFriends(rows)
}

// PendingRequests lists incoming pending requests for userID.
func (s *Store) PendingRequests(ctx context.Context, userID int64) ([]Friend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.sender_id, u.username, f.status, f.created_at
		 FROM friendships f
		 JOIN users u ON u.id = f.sender_id
		 WHERE f.receiver_id = ? AND f.status = ?
		 ORDER BY f.created_at`,
		userID, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	return scanFriends(rows)
}

func scanFriends(rows *sql.Rows) ([]Friend, error) {
	var friends []Friend
	for rows.Next() {
		var f Friend
		var createdAt string
		if err := rows.Scan(&f.UserID, &f.Username, &f.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		since, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		f.Since = since
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// AreFriends reports whether an accepted edge exists between the two users in
// either direction.
func (s *Store) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM friendships
		 WHERE status = ? AND
		       ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
		StatusAccepted, a, b, b, a,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return count > 0, nil
}

// SaveMessage persists one message and returns it with the assigned id.
func (s *Store) SaveMessage(ctx context.Context, senderID, receiverID int64, content string, ts time.Time) (Message, error) {
	ts = ts.UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, content, timestamp) VALUES (?, ?, ?, ?)",
		senderID, receiverID, content, formatTime(ts),
	)
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("save message id: %w", err)
	}
	return Message{ID: id, SenderID: senderID, ReceiverID: receiverID, Content: content, Timestamp: ts}, nil
}

// RecentMessages returns the limit most recent messages exchanged between the
// two users, ordered oldest first within that bound.
func (s *Store) RecentMessages(ctx context.Context, a, b int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, content, timestamp
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		a, b, b, a, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		when, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = when
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query fetched newest-first so LIMIT keeps the most recent slice;
	// flip back to chronological order for the caller.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing zeros, and a whole-second value then sorts after a fractional one
// within the same second; the fixed width keeps lexicographic order equal to
// time order for the ORDER BY on the stored strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 exposes typed errors, but matching on the message
	// keeps the store portable across driver versions.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
