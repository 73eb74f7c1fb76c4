package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/amilie/inboxtriage/internal/lead"
)

// SQLiteStore persists profiles in a single-file SQLite database, the
// single-node default backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The write path is serialized per client by the orchestrator; a single
	// connection avoids SQLITE_BUSY between concurrent clients.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS clients (
			client_id    TEXT PRIMARY KEY,
			temperature  TEXT NOT NULL DEFAULT 'cold',
			created_at   TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS client_attributes (
			client_id  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(client_id, key)
		);

		CREATE TABLE IF NOT EXISTS client_fields (
			client_id TEXT NOT NULL,
			field     TEXT NOT NULL,
			UNIQUE(client_id, field)
		);

		CREATE TABLE IF NOT EXISTS history (
			id                 TEXT PRIMARY KEY,
			client_id          TEXT NOT NULL,
			channel_message_id TEXT NOT NULL,
			channel            TEXT,
			text               TEXT NOT NULL,
			received_at        TIMESTAMP NOT NULL,
			sentiment          TEXT NOT NULL,
			urgency            REAL NOT NULL,
			category           TEXT NOT NULL,
			language           TEXT NOT NULL,
			lead_delta         TEXT NOT NULL,
			created_at         TIMESTAMP NOT NULL,
			UNIQUE(client_id, channel_message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_history_client_received
			ON history (client_id, received_at);
	`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, clientID string) (ClientProfile, error) {
	p := emptyProfile(clientID)

	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT temperature, created_at, last_seen_at FROM clients WHERE client_id = ?`,
		clientID,
	).Scan(&p.LeadState.Temperature, &p.CreatedAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return ClientProfile{}, storageErr("get client", err)
	}
	if lastSeen.Valid {
		p.LastSeenAt = lastSeen.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM client_attributes WHERE client_id = ?`, clientID)
	if err != nil {
		return ClientProfile{}, storageErr("get attributes", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return ClientProfile{}, storageErr("scan attribute", err)
		}
		p.Attributes[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ClientProfile{}, storageErr("iterate attributes", err)
	}

	frows, err := s.db.QueryContext(ctx,
		`SELECT field FROM client_fields WHERE client_id = ?`, clientID)
	if err != nil {
		return ClientProfile{}, storageErr("get fields", err)
	}
	for frows.Next() {
		var f string
		if err := frows.Scan(&f); err != nil {
			frows.Close()
			return ClientProfile{}, storageErr("scan field", err)
		}
		p.LeadState.Qualification[lead.Field(f)] = true
	}
	frows.Close()
	if err := frows.Err(); err != nil {
		return ClientProfile{}, storageErr("iterate fields", err)
	}

	p.History, err = s.History(ctx, clientID, 0)
	if err != nil {
		return ClientProfile{}, err
	}
	return p, nil
}

func (s *SQLiteStore) Append(ctx context.Context, clientID string, entry HistoryEntry) (AppendResult, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("begin append", err)
	}
	defer tx.Rollback()

	if err := ensureClientSQLite(ctx, tx, clientID, entry.CreatedAt); err != nil {
		return "", err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO history
			(id, client_id, channel_message_id, channel, text, received_at,
			 sentiment, urgency, category, language, lead_delta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, clientID, entry.Message.ChannelMessageID, entry.Message.Channel,
		entry.Message.Text, entry.Message.ReceivedAt,
		string(entry.Classifier.Sentiment), entry.Classifier.Urgency,
		string(entry.Classifier.Category), entry.Classifier.Language,
		joinFields(entry.LeadDelta), entry.CreatedAt,
	)
	if err != nil {
		return "", storageErr("insert history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", storageErr("append rows affected", err)
	}
	if n == 0 {
		// Unique (client_id, channel_message_id) hit: at-least-once replay.
		return Duplicate, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE clients SET last_seen_at = ? WHERE client_id = ?`,
		entry.Message.ReceivedAt, clientID,
	); err != nil {
		return "", storageErr("update last seen", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("commit append", err)
	}
	return Appended, nil
}

func (s *SQLiteStore) UpdateAttributes(ctx context.Context, clientID, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin attributes", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := ensureClientSQLite(ctx, tx, clientID, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO client_attributes (client_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(client_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		clientID, key, value, now,
	); err != nil {
		return storageErr("upsert attribute", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit attributes", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLeadState(ctx context.Context, clientID string, delta LeadDelta) (lead.State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lead.State{}, storageErr("begin lead update", err)
	}
	defer tx.Rollback()

	if err := ensureClientSQLite(ctx, tx, clientID, time.Now().UTC()); err != nil {
		return lead.State{}, err
	}
	for _, f := range delta.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO client_fields (client_id, field) VALUES (?, ?)`,
			clientID, string(f),
		); err != nil {
			return lead.State{}, storageErr("insert field", err)
		}
	}
	if delta.Temperature != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET temperature = ? WHERE client_id = ?`,
			string(delta.Temperature), clientID,
		); err != nil {
			return lead.State{}, storageErr("update temperature", err)
		}
	}

	state := lead.NewState()
	if err := tx.QueryRowContext(ctx,
		`SELECT temperature FROM clients WHERE client_id = ?`, clientID,
	).Scan(&state.Temperature); err != nil {
		return lead.State{}, storageErr("read temperature", err)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT field FROM client_fields WHERE client_id = ?`, clientID)
	if err != nil {
		return lead.State{}, storageErr("read fields", err)
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return lead.State{}, storageErr("scan field", err)
		}
		state.Qualification[lead.Field(f)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return lead.State{}, storageErr("iterate fields", err)
	}

	if err := tx.Commit(); err != nil {
		return lead.State{}, storageErr("commit lead update", err)
	}
	return state, nil
}

func (s *SQLiteStore) ResetLeadState(ctx context.Context, clientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin reset", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM client_fields WHERE client_id = ?`, clientID); err != nil {
		return storageErr("delete fields", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE clients SET temperature = 'cold' WHERE client_id = ?`, clientID); err != nil {
		return storageErr("reset temperature", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit reset", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, clientID string, limit int) ([]HistoryEntry, error) {
	q := `SELECT id, channel_message_id, channel, text, received_at,
			sentiment, urgency, category, language, lead_delta, created_at
		  FROM history WHERE client_id = ? ORDER BY received_at DESC`
	args := []any{clientID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var deltas string
		e.Message.ClientID = clientID
		if err := rows.Scan(&e.ID, &e.Message.ChannelMessageID, &e.Message.Channel,
			&e.Message.Text, &e.Message.ReceivedAt,
			&e.Classifier.Sentiment, &e.Classifier.Urgency,
			&e.Classifier.Category, &e.Classifier.Language,
			&deltas, &e.CreatedAt,
		); err != nil {
			return nil, storageErr("scan history", err)
		}
		e.LeadDelta = splitFields(deltas)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}

	// Oldest first for callers.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func ensureClientSQLite(ctx context.Context, tx *sql.Tx, clientID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO clients (client_id, temperature, created_at) VALUES (?, 'cold', ?)`,
		clientID, now,
	); err != nil {
		return storageErr("ensure client", err)
	}
	return nil
}

func joinFields(fields []lead.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func splitFields(s string) []lead.Field {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	fields := make([]lead.Field, len(parts))
	for i, p := range parts {
		fields[i] = lead.Field(p)
	}
	return fields
}
