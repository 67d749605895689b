package pgfeedback

import (
	"context"

	"github.com/BearBump/FeedbackBox/internal/models"
)

func (s *Storage) GetAdminByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	var u models.AdminUser
	err := s.db.QueryRow(ctx, `
SELECT id, username, password_hash, created_at
FROM admin_users
WHERE username = $1
`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, classify(err, "get admin")
	}
	return &u, nil
}

// EnsureAdmin создаёт админа, если его ещё нет. Существующий пароль не трогаем.
func (s *Storage) EnsureAdmin(ctx context.Context, username, passwordHash string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO admin_users (username, password_hash)
VALUES ($1, $2)
ON CONFLICT ON CONSTRAINT `+uniqueUsernameConstant+` DO NOTHING
`, username, passwordHash)
	if err != nil {
		return false, classify(err, "ensure admin")
	}
	return tag.RowsAffected() == 1, nil
}
