package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"interview_room/native/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS participant_state (
	room_id     TEXT NOT NULL,
	role        TEXT NOT NULL,
	state       TEXT NOT NULL,
	remote_peer TEXT NOT NULL DEFAULT '',
	alerts      TEXT NOT NULL DEFAULT '[]',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (room_id, role)
)`

// SQLite stores one row per room and role in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create participant_state table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, snap domain.Snapshot) error {
	alerts, err := json.Marshal(snap.Alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO participant_state (room_id, role, state, remote_peer, alerts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, role) DO UPDATE SET
			state = excluded.state,
			remote_peer = excluded.remote_peer,
			alerts = excluded.alerts,
			updated_at = excluded.updated_at`,
		string(snap.RoomID), string(snap.Role), snap.State, string(snap.RemotePeer),
		string(alerts), snap.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save room state: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, room domain.RoomID, role domain.Role) (domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT state, remote_peer, alerts, updated_at FROM participant_state WHERE room_id = ? AND role = ?",
		string(room), string(role))

	var state, remote, alerts, updated string
	if err := row.Scan(&state, &remote, &alerts, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("load room state: %w", err)
	}

	snap := domain.Snapshot{
		RoomID:     room,
		Role:       role,
		State:      state,
		RemotePeer: domain.PeerHandle(remote),
	}
	if err := json.Unmarshal([]byte(alerts), &snap.Alerts); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal alerts: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse updated_at: %w", err)
	}
	snap.UpdatedAt = t
	return snap, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
