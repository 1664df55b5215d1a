// Package redis persists broker state to a Redis instance via
// go-redis, the teacher's external-store backend option (tested against
// miniredis rather than a live server).
package redis

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// Store implements storage.Store over a Redis client. Keys are stored
// as plain Redis strings; prefix deletion uses SCAN so it never blocks
// the server with a KEYS call on a large keyspace.
type Store struct {
	rdb *redis.Client
	ctx context.Context
}

// Open connects to a Redis server at addr ("host:port").
func Open(addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{rdb: rdb, ctx: ctx}, nil
}

// NewWithClient wraps an already-configured client, used by tests that
// point at a miniredis instance.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ctx: context.Background()}
}

func (s *Store) Put(key string, value []byte) error {
	return s.rdb.Set(s.ctx, key, value, 0).Err()
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(s.ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Delete(key string) error {
	return s.rdb.Del(s.ctx, key).Err()
}

func (s *Store) DeletePrefix(prefix string) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(s.ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(s.ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) Close() error { return s.rdb.Close() }
