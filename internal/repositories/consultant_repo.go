package repositories

import (
	"context"

	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/models"
	"github.com/google/uuid"
)

type ConsultantRepo struct {
	db db.DBTX
}

func NewConsultantRepo(conn db.DBTX) *ConsultantRepo {
	return &ConsultantRepo{db: conn}
}

func (r *ConsultantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Consultant, error) {
	var c models.Consultant
	err := r.db.QueryRow(ctx, `
		SELECT id, wallet_address, name, title, hourly_rate,
		       min_duration_hours, max_duration_hours, is_verified, is_active, created_at
		FROM consultants WHERE id = $1
	`, id).Scan(&c.ID, &c.WalletAddress, &c.Name, &c.Title, &c.HourlyRate,
		&c.MinDurationHours, &c.MaxDurationHours, &c.IsVerified, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "consultant")
	}
	return &c, nil
}
