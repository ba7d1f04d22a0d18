package repositories

import (
	"context"

	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/models"
)

type AuditRepo struct {
	db db.DBTX
}

func NewAuditRepo(conn db.DBTX) *AuditRepo {
	return &AuditRepo{db: conn}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (actor_type, actor_ref, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ActorType, entry.ActorRef, entry.Action, entry.EntityType, entry.EntityID, entry.Meta)
	return err
}
