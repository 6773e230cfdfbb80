package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/logging"
)

func TestStaticOracle_CurrentPrice(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o := NewStaticOracle(fake)

	_, err := o.CurrentPrice(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	o.SetPrice("AAPL", decimal.NewFromFloat(150.25))

	q, err := o.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromFloat(150.25)))
	assert.Equal(t, fake.Now(), q.AsOf)

	fake.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, q.Age(fake.Now()))
}

func TestStaticOracle_RegimeDefaultsToCalm(t *testing.T) {
	o := NewStaticOracle(clock.NewFake(time.Now()))

	r, err := o.CurrentRegime(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, r.Volatility.IsZero())

	o.SetVolatility("AAPL", decimal.NewFromFloat(0.9))
	r, err = o.CurrentRegime(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, r.Volatility.Equal(decimal.NewFromFloat(0.9)))
}

func TestCachedOracle_ServesFromRedisOnRepeat(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	upstream := NewStaticOracle(fake)
	upstream.SetPrice("BTC-USD", decimal.NewFromInt(65000))

	cached := NewCachedOracle(upstream, client, time.Minute, logging.NewNopLogger())
	ctx := context.Background()

	q1, err := cached.CurrentPrice(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, q1.Price.Equal(decimal.NewFromInt(65000)))

	// Upstream moves, but the cached quote keeps serving until TTL expiry.
	upstream.SetPrice("BTC-USD", decimal.NewFromInt(66000))

	q2, err := cached.CurrentPrice(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, q2.Price.Equal(decimal.NewFromInt(65000)))

	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	mr.FastForward(2 * time.Minute)

	q3, err := cached.CurrentPrice(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, q3.Price.Equal(decimal.NewFromInt(66000)))
}

func TestCachedOracle_UnknownSymbol(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cached := NewCachedOracle(NewStaticOracle(clock.NewFake(time.Now())), client,
		time.Minute, logging.NewNopLogger())

	_, err := cached.CurrentPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}
