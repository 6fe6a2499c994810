package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// MaxRequestKeyLength bounds client supplied Idempotency-Key values.
const MaxRequestKeyLength = 200

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrIdempotencyConflict indicates the request key was already claimed.
var ErrIdempotencyConflict = fmt.Errorf("idempotent request already processed: %w", ErrConflict)

// RequestKeys records claimed Idempotency-Key values per scope. Built over a
// transaction, a claim commits or rolls back with the write it guards.
type RequestKeys struct {
	db Execer
}

// NewRequestKeys binds the key table to db.
func NewRequestKeys(db Execer) *RequestKeys {
	return &RequestKeys{db: db}
}

// Claim inserts key under scope, failing with ErrIdempotencyConflict when it exists.
func (k *RequestKeys) Claim(ctx context.Context, scope, key string) error {
	if k == nil || k.db == nil {
		return errors.New("shared: request keys not initialised")
	}
	if scope == "" {
		return errors.New("shared: request key scope required")
	}
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return NewValidationError("idempotency_key", "is required")
	case len(key) > MaxRequestKeyLength:
		return NewValidationError("idempotency_key", fmt.Sprintf("must be at most %d characters", MaxRequestKeyLength))
	}

	_, err := k.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, now())`, key, scope)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrIdempotencyConflict
	}
	return err
}
