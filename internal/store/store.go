// Package store is the persisted layer: users, their agents, and the
// append-only log of declined trade proposals.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested record does not exist or
	// the caller does not own it.
	ErrNotFound = errors.New("store: record not found")

	// ErrAgentExists is returned when an owner already has an agent with
	// the requested name.
	ErrAgentExists = errors.New("store: agent name already in use")
)

// User is a registered chat user.
type User struct {
	ID              int64
	ChatID          int64
	Username        string
	AcceptedTermsAt time.Time
	TermsVersion    int
}

// Agent is a named trading agent owned by one user. EscrowAddress is
// derived, never chosen; it is stored so balance views do not need key
// material.
type Agent struct {
	ID            int64
	UserID        int64
	Name          string
	Instructions  string
	EscrowAddress string
	CreatedAt     time.Time
}

// Store wraps the sqlite database. All access goes through
// parameterized queries.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writes through its own locking; a single
	// connection avoids SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL UNIQUE,
	username TEXT NOT NULL,
	accepted_terms_at INTEGER NOT NULL,
	terms_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	name TEXT NOT NULL,
	instructions TEXT NOT NULL,
	escrow_address TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS declined_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	agent_id INTEGER NOT NULL,
	trade_data TEXT NOT NULL,
	declined_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_declined_trades_lookup
	ON declined_trades(user_id, agent_id, declined_at DESC);
`

// CreateUser registers a chat user who accepted the current terms.
// Re-accepting after a terms bump updates the stored version in place.
func (s *Store) CreateUser(ctx context.Context, chatID int64, username string, termsVersion int) (*User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (chat_id, username, accepted_terms_at, terms_version) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
			username = excluded.username,
			accepted_terms_at = excluded.accepted_terms_at,
			terms_version = excluded.terms_version`,
		chatID, username, now.Unix(), termsVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return s.UserByChatID(ctx, chatID)
}

// UserByChatID resolves a chat identity to a registered user.
func (s *Store) UserByChatID(ctx context.Context, chatID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, chat_id, username, accepted_terms_at, terms_version FROM users WHERE chat_id = ?",
		chatID)
	var u User
	var accepted int64
	if err := row.Scan(&u.ID, &u.ChatID, &u.Username, &accepted, &u.TermsVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.AcceptedTermsAt = time.Unix(accepted, 0).UTC()
	return &u, nil
}

// CreateAgent stores a new agent. Names are unique per owner.
func (s *Store) CreateAgent(ctx context.Context, userID int64, name, instructions, escrowAddress string) (*Agent, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM agents WHERE user_id = ? AND name = ?", userID, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check agent name: %w", err)
	}
	if exists > 0 {
		return nil, ErrAgentExists
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO agents (user_id, name, instructions, escrow_address, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, name, instructions, escrowAddress, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Agent{
		ID:            id,
		UserID:        userID,
		Name:          name,
		Instructions:  instructions,
		EscrowAddress: escrowAddress,
		CreatedAt:     now,
	}, nil
}

// AgentByID fetches one agent, gated on ownership.
func (s *Store) AgentByID(ctx context.Context, id, userID int64) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, instructions, escrow_address, created_at FROM agents WHERE id = ? AND user_id = ?",
		id, userID)
	return scanAgent(row)
}

// AgentsByUser lists a user's agents, oldest first.
func (s *Store) AgentsByUser(ctx context.Context, userID int64) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, name, instructions, escrow_address, created_at FROM agents WHERE user_id = ? ORDER BY id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent and, by reference, its decline history.
// Only the owner may delete.
func (s *Store) DeleteAgent(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM agents WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM declined_trades WHERE agent_id = ? AND user_id = ?", id, userID); err != nil {
		return fmt.Errorf("failed to clean up declined trades: %w", err)
	}
	return nil
}

// RecordDecline appends a declined proposal snapshot. The log is
// read-only after creation.
func (s *Store) RecordDecline(ctx context.Context, userID, agentID int64, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO declined_trades (user_id, agent_id, trade_data, declined_at) VALUES (?, ?, ?, ?)",
		userID, agentID, string(snapshot), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to record declined trade: %w", err)
	}
	return nil
}

// RecentDeclines returns up to limit snapshots, most recent first.
func (s *Store) RecentDeclines(ctx context.Context, userID, agentID int64, limit int) ([]string, error) {
	if limit <= 0 || limit > 5 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT trade_data FROM declined_trades WHERE user_id = ? AND agent_id = ? ORDER BY declined_at DESC, id DESC LIMIT ?",
		userID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query declined trades: %w", err)
	}
	defer rows.Close()

	var snapshots []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, data)
	}
	return snapshots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var created int64
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Instructions, &a.EscrowAddress, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	return &a, nil
}
