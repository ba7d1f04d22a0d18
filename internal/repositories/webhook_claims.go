package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookClaims records provider event ids already processed so redeliveries
// can be acknowledged without reprocessing.
type WebhookClaims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewWebhookClaims(rdb *redis.Client, ttl time.Duration) *WebhookClaims {
	return &WebhookClaims{rdb: rdb, ttl: ttl}
}

func claimKey(provider, eventID string) string {
	return "webhook:" + provider + ":" + eventID
}

// Claim returns true the first time an event id is seen within the TTL.
func (w *WebhookClaims) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	return w.rdb.SetNX(ctx, claimKey(provider, eventID), time.Now().Unix(), w.ttl).Result()
}

// Release forgets a claim so a failed delivery is processed again on retry.
func (w *WebhookClaims) Release(ctx context.Context, provider, eventID string) error {
	return w.rdb.Del(ctx, claimKey(provider, eventID)).Err()
}
