package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "replenishment:payload:"

const (
	fieldPaymentMethod   = "payment_method"
	fieldShippingCountry = "shipping_country"
	fieldOrderItems      = "order_items"
)

// PayloadStore keeps one hash per armed job id.
type PayloadStore struct {
	client goredis.UniversalClient
}

func NewPayloadStore(client goredis.UniversalClient) *PayloadStore {
	return &PayloadStore{client: client}
}

func (s *PayloadStore) Put(ctx context.Context, key string, payload domain.OrderPayload) error {
	items, err := json.Marshal(payload.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	// Replace rather than merge so a shorter payload leaves no stale fields behind.
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, keyPrefix+key)
		p.HSet(ctx, keyPrefix+key,
			fieldPaymentMethod, payload.PaymentMethod,
			fieldShippingCountry, payload.ShippingCountry,
			fieldOrderItems, string(items),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store payload %s: %w", key, err)
	}
	return nil
}

func (s *PayloadStore) Get(ctx context.Context, key string) (*domain.OrderPayload, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("load payload %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrPayloadNotFound
	}

	payload := domain.OrderPayload{
		PaymentMethod:   fields[fieldPaymentMethod],
		ShippingCountry: fields[fieldShippingCountry],
	}
	if raw := fields[fieldOrderItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.Items); err != nil {
			return nil, fmt.Errorf("decode order items %s: %w", key, err)
		}
	}
	return &payload, nil
}

func (s *PayloadStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete payload %s: %w", key, err)
	}
	return nil
}

func (s *PayloadStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check payload %s: %w", key, err)
	}
	return n > 0, nil
}
