package store

import (
	"context"

	"wallet/internal/models"
)

// UserStore mirrors identity-provider users locally so accounts and audit
// rows can reference them.
type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Upsert(ctx context.Context, tx Execer, user models.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email
		WHERE users.email IS DISTINCT FROM EXCLUDED.email
	`, user.ID, user.Email, user.CreatedAt)
	return err
}
