package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/chazu/resumable/wire"
)

const (
	fieldData    = "data"
	fieldFormat  = "format"
	fieldVersion = "version"

	formatCBOR    = "cbor"
	defaultPrefix = "resumable:"
)

// RedisOption configures the redis store.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
}

// WithPrefix sets the key prefix. An empty prefix keeps the default.
func WithPrefix(prefix string) RedisOption {
	return func(cfg *redisConfig) {
		if prefix != "" {
			cfg.prefix = prefix
		}
	}
}

// WithTTL expires snapshots after d. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(cfg *redisConfig) {
		cfg.ttl = d
	}
}

// Redis stores each snapshot as a hash under prefix+id.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("store: redis client is nil")
	}
	cfg := redisConfig{prefix: defaultPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Redis{client: client, prefix: cfg.prefix, ttl: cfg.ttl}, nil
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: connecting to redis at %s: %w", addr, err)
	}
	log.Debugf("connected to redis %s db %d", addr, db)
	return NewRedis(client, opts...)
}

func (r *Redis) key(id string) string { return r.prefix + id }

// Put stores the envelope and applies the configured ttl.
func (r *Redis) Put(ctx context.Context, snap *wire.Snapshot) error {
	data, err := wire.Marshal(snap)
	if err != nil {
		return err
	}
	key := r.key(snap.ID)
	fields := map[string]any{
		fieldData:    data,
		fieldFormat:  formatCBOR,
		fieldVersion: strconv.Itoa(int(snap.Version)),
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("setting ttl: %w", err)
		}
	}
	return nil
}

// Get loads and verifies a snapshot.
func (r *Redis) Get(ctx context.Context, id string) (*wire.Snapshot, error) {
	result, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	if format := result[fieldFormat]; format != formatCBOR {
		return nil, fmt.Errorf("store: snapshot %s has format %q", id, format)
	}
	return decode(id, []byte(result[fieldData]))
}

// Delete removes a snapshot.
func (r *Redis) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// List returns stored ids in lexical order.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
