package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/streamrelay/relay-server-go/internal/database"
	"github.com/streamrelay/relay-server-go/internal/model"
)

// SessionRepository stores per-session fields under a hashed session key. Every write slides
// the expiry of the whole session forward by the store's TTL.
type SessionRepository interface {
	// Get returns ok=false when the field is absent or the session expired.
	Get(ctx context.Context, keyHash, field string) (value string, ok bool, err error)
	Set(ctx context.Context, keyHash, field, value string) error
	// TakeField reads and removes a field in one step; concurrent callers never both see it.
	TakeField(ctx context.Context, keyHash, field string) (value string, ok bool, err error)
	Delete(ctx context.Context, keyHash string) error
}

// ExpiringSessionRepository is a store that needs expired rows swept by the cleanup job.
type ExpiringSessionRepository interface {
	SessionRepository
	DeleteExpired(ctx context.Context) (int64, error)
}

type sessionRepo struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

func NewSessionRepository(db *database.DB, ttl time.Duration) ExpiringSessionRepository {
	return &sessionRepo{db: db, ttl: ttl, now: time.Now}
}

func (r *sessionRepo) Get(ctx context.Context, keyHash, field string) (string, bool, error) {
	var row model.SessionField
	found, err := HandleNotFound(&row, r.db.GetContext(ctx, &row, `
		SELECT session_key_hash, field, value, expires_at, updated_at
		FROM session_fields
		WHERE session_key_hash = $1 AND field = $2 AND expires_at > $3
	`, keyHash, field, r.now()))
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return found.Value, true, nil
}

func (r *sessionRepo) Set(ctx context.Context, keyHash, field, value string) error {
	now := r.now()
	expiresAt := now.Add(r.ttl)

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertField(ctx, tx, keyHash, field, value, expiresAt, now); err != nil {
			return err
		}
		return touchSession(ctx, tx, keyHash, expiresAt)
	})
}

func (r *sessionRepo) TakeField(ctx context.Context, keyHash, field string) (string, bool, error) {
	var value string
	found, err := HandleNotFound(&value, r.db.GetContext(ctx, &value, `
		DELETE FROM session_fields
		WHERE session_key_hash = $1 AND field = $2 AND expires_at > $3
		RETURNING value
	`, keyHash, field, r.now()))
	if err != nil {
		return "", false, err
	}
	if found == nil {
		return "", false, nil
	}
	return *found, true, nil
}

func (r *sessionRepo) Delete(ctx context.Context, keyHash string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM session_fields WHERE session_key_hash = $1
	`, keyHash)
	return err
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_fields WHERE expires_at <= $1
	`, r.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func upsertField(ctx context.Context, q database.DBTX, keyHash, field, value string, expiresAt, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO session_fields (session_key_hash, field, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_key_hash, field) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, keyHash, field, value, expiresAt, now)
	return err
}

func touchSession(ctx context.Context, q database.DBTX, keyHash string, expiresAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE session_fields SET expires_at = $2 WHERE session_key_hash = $1
	`, keyHash, expiresAt)
	return err
}
