package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealedchat-backend/internal/domain"
)

// KeysRepository is the public identity key directory.
// Private keys are never sent to the server.
type KeysRepository struct {
	pool *pgxpool.Pool
}

// NewKeysRepository creates a new KeysRepository
func NewKeysRepository(pool *pgxpool.Pool) *KeysRepository {
	return &KeysRepository{pool: pool}
}

// SaveIdentityKey stores key unless the user already has one, and returns
// the key stored for the user afterwards. Keys are never replaced.
func (r *KeysRepository) SaveIdentityKey(ctx context.Context, key *domain.IdentityKey) (*domain.IdentityKey, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identity_keys (user_id, public_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, key.UserID, key.PublicKey, key.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save identity key: %w", err)
	}

	return r.GetIdentityKey(ctx, key.UserID)
}

// GetIdentityKey retrieves user's identity key
func (r *KeysRepository) GetIdentityKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	key := &domain.IdentityKey{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, public_key, created_at FROM identity_keys WHERE user_id = $1`, userID,
	).Scan(&key.UserID, &key.PublicKey, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get identity key: %w", err)
	}

	return key, nil
}

// GetIdentityKeys returns the keys of every listed user that has published one
func (r *KeysRepository) GetIdentityKeys(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.IdentityKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, public_key, created_at FROM identity_keys WHERE user_id = ANY($1)`, userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity keys: %w", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[domain.IdentityKey])
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity keys: %w", err)
	}

	out := make(map[uuid.UUID]*domain.IdentityKey, len(keys))
	for _, k := range keys {
		out[k.UserID] = k
	}
	return out, nil
}
