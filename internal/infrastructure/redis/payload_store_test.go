package redis_test

import (
	"context"
	"testing"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	rstore "github.com/ErlanBelekov/replenishment/internal/infrastructure/redis"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*rstore.PayloadStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rstore.NewPayloadStore(client), mr
}

func samplePayload() domain.OrderPayload {
	return domain.OrderPayload{
		PaymentMethod:   "pm_card_visa",
		ShippingCountry: "US",
		Items: []domain.OrderItem{
			{ProductID: "sku-1", Quantity: 2},
			{ProductID: "sku-2", Quantity: 1},
		},
	}
}

func TestPayloadStore_PutGet(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-1", samplePayload()))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), *got)

	assert.Equal(t, "US", mr.HGet("replenishment:payload:job-1", "shipping_country"))
}

func TestPayloadStore_GetMissing(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrPayloadNotFound)
}

func TestPayloadStore_PutReplaces(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-1", samplePayload()))
	replacement := domain.OrderPayload{
		PaymentMethod:   "pm_other",
		ShippingCountry: "DE",
		Items:           []domain.OrderItem{{ProductID: "sku-9", Quantity: 5}},
	}
	require.NoError(t, store.Put(ctx, "job-1", replacement))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, replacement, *got)
}

func TestPayloadStore_DeleteAndExists(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-1", samplePayload()))

	ok, err := store.Exists(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "job-1"))
	require.NoError(t, store.Delete(ctx, "job-1"), "deleting a missing key is a no-op")

	ok, err = store.Exists(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPayloadStore_Unreachable(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()

	err := store.Put(context.Background(), "job-1", samplePayload())
	assert.Error(t, err)
}
