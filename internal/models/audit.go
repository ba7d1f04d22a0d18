package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActorClient   = "client"
	ActorSystem   = "system"
	ActorProvider = "provider"
	ActorChain    = "chain"
)

type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	ActorType  string     `json:"actor_type"`
	ActorRef   *string    `json:"actor_ref,omitempty"` // wallet or provider id
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty"`
	Meta       any        `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
