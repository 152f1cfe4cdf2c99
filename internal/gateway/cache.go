package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const inquiryKeyPrefix = "gateway:inquiry"

// CachedInquirer shares inquiry results across processes for a short TTL so
// many clients polling one deposit do not multiply upstream calls.
type CachedInquirer struct {
	next  Gateway
	redis redis.Cmdable
	ttl   time.Duration
}

func NewCachedInquirer(next Gateway, rdb redis.Cmdable, ttl time.Duration) *CachedInquirer {
	return &CachedInquirer{next: next, redis: rdb, ttl: ttl}
}

func (c *CachedInquirer) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	return c.next.CreateInvoice(ctx, req)
}

func (c *CachedInquirer) Inquire(ctx context.Context, trackID string) (*Inquiry, error) {
	if c.redis == nil || c.ttl <= 0 {
		return c.next.Inquire(ctx, trackID)
	}

	key := fmt.Sprintf("%s:%s", inquiryKeyPrefix, trackID)
	val, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var cached Inquiry
		if json.Unmarshal([]byte(val), &cached) == nil {
			return &cached, nil
		}
	} else if err != redis.Nil {
		zap.L().Warn("redis inquiry cache lookup failed", zap.Error(err))
	}

	inq, err := c.next.Inquire(ctx, trackID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(inq)
	if err != nil {
		zap.L().Warn("marshal inquiry cache", zap.Error(err))
		return inq, nil
	}
	if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		zap.L().Warn("redis inquiry cache set failed", zap.Error(err))
	}
	return inq, nil
}

// Invalidate drops a cached inquiry, e.g. after a webhook changed the state.
func (c *CachedInquirer) Invalidate(ctx context.Context, trackID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, fmt.Sprintf("%s:%s", inquiryKeyPrefix, trackID)).Err(); err != nil {
		zap.L().Warn("redis inquiry cache delete failed", zap.Error(err))
	}
}
