// Package publisher mirrors canonical quotes and arbitrage alerts into
// Redis, both as streams for replay and as Pub/Sub for live consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"futures-quotefeed/internal/arb"
	"futures-quotefeed/internal/codec"
	"futures-quotefeed/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes feed output to Redis.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the link with a ping.
func NewRedisPublisher(addr string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// Client returns the underlying Redis client.
func (p *RedisPublisher) Client() *redis.Client {
	return p.client
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// PublishQuote mirrors one quote to a stream and a Pub/Sub channel keyed by
// symbol and exchange.
func (p *RedisPublisher) PublishQuote(ctx context.Context, q codec.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}

	streamKey := fmt.Sprintf("quotes:%s:%s", q.DisplaySymbol, q.Exchange)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RedisPublishDuration, streamKey)

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err(); err != nil {
		metrics.RedisPublishErrors.WithLabelValues(streamKey).Inc()
		return err
	}

	if err := p.client.Publish(ctx, streamKey, string(data)).Err(); err != nil {
		metrics.RedisPublishErrors.WithLabelValues(streamKey).Inc()
		return err
	}
	return nil
}

// PublishOpportunities mirrors one arbitrage alert set to the shared
// opportunities stream and channel.
func (p *RedisPublisher) PublishOpportunities(ctx context.Context, symbol string, opportunities []arb.Opportunity) error {
	data, err := json.Marshal(opportunities)
	if err != nil {
		return err
	}

	const streamKey = "arbitrage"

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RedisPublishDuration, streamKey)

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"symbol": symbol,
			"data":   string(data),
		},
	}).Err(); err != nil {
		metrics.RedisPublishErrors.WithLabelValues(streamKey).Inc()
		return err
	}

	return p.client.Publish(ctx, streamKey, string(data)).Err()
}
