package pgfeedback

import (
	"context"

	"github.com/BearBump/FeedbackBox/internal/models"
)

func (s *Storage) GetCourier(ctx context.Context, id int64) (*models.Courier, error) {
	var c models.Courier
	err := s.db.QueryRow(ctx, `
SELECT id, name, phone, contact_link, created_at
FROM couriers
WHERE id = $1
`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.ContactLink, &c.CreatedAt)
	if err != nil {
		return nil, classify(err, "get courier")
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// UpsertCourier создаёт курьера с явным id (сиды и тесты) и подтягивает sequence.
func (s *Storage) UpsertCourier(ctx context.Context, c models.Courier) (*models.Courier, error) {
	err := s.db.QueryRow(ctx, `
INSERT INTO couriers (id, name, phone, contact_link)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  phone = EXCLUDED.phone,
  contact_link = EXCLUDED.contact_link
RETURNING created_at
`, c.ID, c.Name, c.Phone, c.ContactLink).Scan(&c.CreatedAt)
	if err != nil {
		return nil, classify(err, "upsert courier")
	}

	if _, err := s.db.Exec(ctx, `SELECT setval(pg_get_serial_sequence('couriers', 'id'), GREATEST((SELECT MAX(id) FROM couriers), 1))`); err != nil {
		return nil, classify(err, "sync courier sequence")
	}

	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
