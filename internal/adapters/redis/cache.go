package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// MarkEventSeen claims a gateway event id. Returns false when a redelivery
// already claimed it, so the reconciler can ack duplicates without touching
// payment state.
func (c *Cache) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "gwevent:"+eventID, 1, ttl)
	return res.Val(), res.Err()
}

// UnmarkEvent drops a claim after the event failed to process, reopening the
// id for the gateway's redelivery.
func (c *Cache) UnmarkEvent(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, "gwevent:"+eventID).Err()
}

// CachePaymentStatus stores a short-lived read model for getPaymentStatus.
func (c *Cache) CachePaymentStatus(ctx context.Context, publicID string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "paystatus:"+publicID, data, ttl).Err()
}

func (c *Cache) GetPaymentStatus(ctx context.Context, publicID string, v interface{}) (bool, error) {
	data, err := c.client.Get(ctx, "paystatus:"+publicID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// InvalidatePaymentStatus drops the cached read model after a transition.
func (c *Cache) InvalidatePaymentStatus(ctx context.Context, publicID string) error {
	return c.client.Del(ctx, "paystatus:"+publicID).Err()
}
