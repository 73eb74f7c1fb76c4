package memory

import (
	"context"
	"strings"
)

// NewStore picks a backend from the database URL: postgres:// URLs get the
// pgx pool, any other non-empty value is treated as a SQLite file path, and
// an empty value falls back to the in-process store.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	default:
		return NewSQLiteStore(strings.TrimPrefix(url, "sqlite://"))
	}
}
