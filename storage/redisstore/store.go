// Package redisstore keeps client storage in redis, for consoles that run
// several replicas behind a balancer.
package redisstore

import (
	"context"
	"errors"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/redis/go-redis/v9"
)

var (
	_ authclient.Storage     = (*Store)(nil)
	_ authclient.MultiSetter = (*Store)(nil)
)

// Store is a redis backed authclient.Storage
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option customizes a Store
type Option func(*Store)

// WithPrefix namespaces every key, typically with a session id
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL expires keys after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New wraps client
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dial connects to addr and checks the connection
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Scoped returns a Store sharing the connection under another prefix
func (s *Store) Scoped(prefix string) *Store {
	return &Store{
		client: s.client,
		prefix: prefix,
		ttl:    s.ttl,
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.key(key), value, s.ttl).Err()
}

// SetMany writes all values inside MULTI/EXEC
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.key(k), v, s.ttl)
		}
		return nil
	})
	return err
}

// Delete removes keys with one DEL
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}
