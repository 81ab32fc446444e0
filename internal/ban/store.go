// Package ban provides address-based ban management backed by Redis.
// Ban records are stored as simple key-value pairs with no expiry:
//
//	Key:   ban:<address>
//	Value: <reason>
//
// Bans are permanent; only an explicit Unban removes one. Every new
// connection is checked against this store before any state is created
// for it.
package ban

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// BanPrefix is the Redis key prefix for ban records.
const BanPrefix = "ban:"

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks if an address is banned. Returns (isBanned, reason, error).
// Redis errors are returned so callers can decide how to handle them; the
// connect path fails open so a Redis outage does not lock everyone out.
func (s *Store) IsBanned(ctx context.Context, addr string) (bool, string, error) {
	reason, err := s.client.Get(ctx, BanPrefix+addr).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("ban: check %s: %w", addr, err)
	}
	return true, reason, nil
}

// Ban records a permanent ban on an address with the given reason.
func (s *Store) Ban(ctx context.Context, addr, reason string) error {
	if err := s.client.Set(ctx, BanPrefix+addr, reason, 0).Err(); err != nil {
		return fmt.Errorf("ban: set %s: %w", addr, err)
	}
	return nil
}

// Unban removes a ban from an address immediately.
func (s *Store) Unban(ctx context.Context, addr string) error {
	if err := s.client.Del(ctx, BanPrefix+addr).Err(); err != nil {
		return fmt.Errorf("ban: del %s: %w", addr, err)
	}
	return nil
}

// List returns every banned address, for operator diagnostics. It scans the
// keyspace, so it is not meant for hot paths.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var addrs []string
	iter := s.client.Scan(ctx, 0, BanPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		addrs = append(addrs, iter.Val()[len(BanPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ban: scan: %w", err)
	}
	return addrs, nil
}
