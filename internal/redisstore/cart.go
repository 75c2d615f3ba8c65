// Package redisstore implements the cart store on Redis. One key per user
// keeps cart state out of process memory, so it survives restarts and is
// shared across server instances.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vitalblend/commerce-api/internal/domain/cart"
)

// cartTTL bounds how long an abandoned cart lingers.
const cartTTL = 30 * 24 * time.Hour

var _ cart.Store = (*CartStore)(nil)

// CartStore persists carts as JSON values keyed by user ID.
type CartStore struct {
	client *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewCartStore returns a CartStore using the given client.
func NewCartStore(client *redis.Client) *CartStore {
	return &CartStore{client: client}
}

func cartKey(userID string) string {
	return "cart:" + userID
}

// Get loads the user's cart. A missing key is an empty cart, not an error.
func (s *CartStore) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	raw, err := s.client.Get(ctx, cartKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return &cart.Cart{UserID: userID}, nil
		}
		return nil, fmt.Errorf("loading cart for user %q: %w", userID, err)
	}

	var c cart.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decoding cart for user %q: %w", userID, err)
	}
	c.UserID = userID
	return &c, nil
}

// Save writes the full cart, refreshing its TTL. Concurrent saves from the
// same user's devices race last-write-wins.
func (s *CartStore) Save(ctx context.Context, c *cart.Cart) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding cart for user %q: %w", c.UserID, err)
	}
	if err := s.client.Set(ctx, cartKey(c.UserID), raw, cartTTL).Err(); err != nil {
		return fmt.Errorf("saving cart for user %q: %w", c.UserID, err)
	}
	return nil
}

// Clear removes the user's cart.
func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	return nil
}
