package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/lead"
)

// PostgresStore persists profiles in PostgreSQL for multi-process
// deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			client_id    TEXT PRIMARY KEY,
			temperature  TEXT NOT NULL DEFAULT 'cold',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS client_attributes (
			client_id  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (client_id, key)
		);`,
		`CREATE TABLE IF NOT EXISTS client_fields (
			client_id TEXT NOT NULL,
			field     TEXT NOT NULL,
			UNIQUE (client_id, field)
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			id                 TEXT PRIMARY KEY,
			client_id          TEXT NOT NULL,
			channel_message_id TEXT NOT NULL,
			channel            TEXT,
			text               TEXT NOT NULL,
			received_at        TIMESTAMPTZ NOT NULL,
			sentiment          TEXT NOT NULL,
			urgency            DOUBLE PRECISION NOT NULL,
			category           TEXT NOT NULL,
			language           TEXT NOT NULL,
			lead_delta         TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL,
			UNIQUE (client_id, channel_message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_client_received
			ON history (client_id, received_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, clientID string) (ClientProfile, error) {
	p := emptyProfile(clientID)

	var temperature string
	var lastSeen *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT temperature, created_at, last_seen_at FROM clients WHERE client_id = $1`,
		clientID,
	).Scan(&temperature, &p.CreatedAt, &lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return ClientProfile{}, storageErr("get client", err)
	}
	p.LeadState.Temperature = lead.Temperature(temperature)
	if lastSeen != nil {
		p.LastSeenAt = *lastSeen
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM client_attributes WHERE client_id = $1`, clientID)
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

	frows, err := s.pool.Query(ctx,
		`SELECT field FROM client_fields WHERE client_id = $1`, clientID)
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

func (s *PostgresStore) Append(ctx context.Context, clientID string, entry HistoryEntry) (AppendResult, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", storageErr("begin append", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureClientPG(ctx, tx, clientID); err != nil {
		return "", err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO history
			(id, client_id, channel_message_id, channel, text, received_at,
			 sentiment, urgency, category, language, lead_delta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (client_id, channel_message_id) DO NOTHING`,
		entry.ID, clientID, entry.Message.ChannelMessageID, entry.Message.Channel,
		entry.Message.Text, entry.Message.ReceivedAt,
		string(entry.Classifier.Sentiment), entry.Classifier.Urgency,
		string(entry.Classifier.Category), entry.Classifier.Language,
		joinFields(entry.LeadDelta), entry.CreatedAt,
	)
	if err != nil {
		return "", storageErr("insert history", err)
	}
	if tag.RowsAffected() == 0 {
		return Duplicate, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE clients SET last_seen_at = $1 WHERE client_id = $2`,
		entry.Message.ReceivedAt, clientID,
	); err != nil {
		return "", storageErr("update last seen", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", storageErr("commit append", err)
	}
	return Appended, nil
}

func (s *PostgresStore) UpdateAttributes(ctx context.Context, clientID, key, value string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin attributes", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureClientPG(ctx, tx, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO client_attributes (client_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (client_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		clientID, key, value,
	); err != nil {
		return storageErr("upsert attribute", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit attributes", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadState(ctx context.Context, clientID string, delta LeadDelta) (lead.State, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return lead.State{}, storageErr("begin lead update", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureClientPG(ctx, tx, clientID); err != nil {
		return lead.State{}, err
	}
	for _, f := range delta.Fields {
		if _, err := tx.Exec(ctx,
			`INSERT INTO client_fields (client_id, field) VALUES ($1, $2)
			 ON CONFLICT (client_id, field) DO NOTHING`,
			clientID, string(f),
		); err != nil {
			return lead.State{}, storageErr("insert field", err)
		}
	}
	if delta.Temperature != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE clients SET temperature = $1 WHERE client_id = $2`,
			string(delta.Temperature), clientID,
		); err != nil {
			return lead.State{}, storageErr("update temperature", err)
		}
	}

	state := lead.NewState()
	var temperature string
	if err := tx.QueryRow(ctx,
		`SELECT temperature FROM clients WHERE client_id = $1`, clientID,
	).Scan(&temperature); err != nil {
		return lead.State{}, storageErr("read temperature", err)
	}
	state.Temperature = lead.Temperature(temperature)

	rows, err := tx.Query(ctx,
		`SELECT field FROM client_fields WHERE client_id = $1`, clientID)
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

	if err := tx.Commit(ctx); err != nil {
		return lead.State{}, storageErr("commit lead update", err)
	}
	return state, nil
}

func (s *PostgresStore) ResetLeadState(ctx context.Context, clientID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin reset", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM client_fields WHERE client_id = $1`, clientID); err != nil {
		return storageErr("delete fields", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE clients SET temperature = 'cold' WHERE client_id = $1`, clientID); err != nil {
		return storageErr("reset temperature", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit reset", err)
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, clientID string, limit int) ([]HistoryEntry, error) {
	q := `SELECT id, channel_message_id, channel, text, received_at,
			sentiment, urgency, category, language, lead_delta, created_at
		  FROM history WHERE client_id = $1 ORDER BY received_at DESC`
	args := []any{clientID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var channel *string
		var sentiment, category, language, deltas string
		e.Message.ClientID = clientID
		if err := rows.Scan(&e.ID, &e.Message.ChannelMessageID, &channel,
			&e.Message.Text, &e.Message.ReceivedAt,
			&sentiment, &e.Classifier.Urgency, &category, &language,
			&deltas, &e.CreatedAt,
		); err != nil {
			return nil, storageErr("scan history", err)
		}
		if channel != nil {
			e.Message.Channel = *channel
		}
		e.Classifier.Sentiment = classify.Sentiment(sentiment)
		e.Classifier.Category = classify.Category(category)
		e.Classifier.Language = language
		e.LeadDelta = splitFields(deltas)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func ensureClientPG(ctx context.Context, tx pgx.Tx, clientID string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO clients (client_id, temperature) VALUES ($1, 'cold')
		 ON CONFLICT (client_id) DO NOTHING`,
		clientID,
	); err != nil {
		return storageErr("ensure client", err)
	}
	return nil
}
