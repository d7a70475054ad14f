package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-ml-eval/logger"
)

// DefaultKeyPrefix namespaces the metrics keys.
const DefaultKeyPrefix = "eval:metrics:"

// KeyValue is the subset of a Redis client the sink needs.
type KeyValue interface {
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL is the lifetime of a stored entry, zero keeps it forever.
	TTL time.Duration
	// Prefix replaces DefaultKeyPrefix when set.
	Prefix string
}

// redisKeyValue adapts a go-redis client to KeyValue.
type redisKeyValue struct {
	client *redis.Client
}

func (r *redisKeyValue) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *redisKeyValue) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// RedisSink stores every run's metrics as one JSON string per split and variant.
type RedisSink struct {
	kv     KeyValue
	ttl    time.Duration
	prefix string
	log    *logrus.Entry
}

// NewRedisSink connects to Redis and checks the connection.
//
// Arguments:
//   - ctx: Bounds the connectivity check.
//   - opts: The connection settings.
//
// Returns:
//   - *RedisSink: The sink.
//   - error: When Redis does not answer the ping.
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	log := logger.WithComponent("storage").WithField("addr", opts.Addr)
	log.Info("Connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", opts.Addr)
	}
	log.Info("Successfully connected to Redis")

	return newRedisSink(&redisKeyValue{client: client}, opts, log), nil
}

// NewKeyValueSink builds a Redis-style sink over any KeyValue store.
func NewKeyValueSink(kv KeyValue, opts RedisOptions) *RedisSink {
	return newRedisSink(kv, opts, logger.WithComponent("storage"))
}

func newRedisSink(kv KeyValue, opts RedisOptions, log *logrus.Entry) *RedisSink {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisSink{kv: kv, ttl: opts.TTL, prefix: prefix, log: log}
}

// Write stores the metrics JSON under "<prefix><split>/<variant>".
func (s *RedisSink) Write(ctx context.Context, split, variant string, metrics any) error {
	payload, err := json.MarshalToString(metrics)
	if err != nil {
		return errors.Wrap(err, "encode metrics")
	}
	key := s.prefix + Key(split, variant)
	if err := s.kv.Set(ctx, key, payload, s.ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Error("Error storing metrics")
		return errors.Wrapf(err, "set %s", key)
	}
	s.log.WithField("key", key).Debug("Stored metrics")
	return nil
}

// Read decodes the metrics stored under split and variant into out.
func (s *RedisSink) Read(ctx context.Context, split, variant string, out any) error {
	key := s.prefix + Key(split, variant)
	val, err := s.kv.Get(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "get %s", key)
	}
	return errors.Wrap(json.UnmarshalFromString(val, out), "decode metrics")
}
