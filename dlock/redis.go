package dlock

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/guardkit/logger"
)

// RedisConfig holds connection settings for the Redis lock backend.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr" mapstructure:"addr"`

	// Password is the Redis server password.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db" mapstructure:"db"`

	// PoolSize is the maximum number of socket connections.
	PoolSize int `yaml:"pool_size" mapstructure:"pool_size"`

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`

	// DialTimeout is the timeout for establishing new connections (e.g. "5s").
	DialTimeout string `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// ReadTimeout is the timeout for socket reads (e.g. "3s").
	ReadTimeout string `yaml:"read_timeout" mapstructure:"read_timeout"`

	// WriteTimeout is the timeout for socket writes (e.g. "3s").
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *RedisConfig) ApplyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 2
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "5s"
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "3s"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "3s"
	}
}

// Validate checks that required fields are present and parseable.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if _, err := time.ParseDuration(c.DialTimeout); err != nil {
		return fmt.Errorf("invalid dial_timeout %q: %w", c.DialTimeout, err)
	}
	if _, err := time.ParseDuration(c.ReadTimeout); err != nil {
		return fmt.Errorf("invalid read_timeout %q: %w", c.ReadTimeout, err)
	}
	if _, err := time.ParseDuration(c.WriteTimeout); err != nil {
		return fmt.Errorf("invalid write_timeout %q: %w", c.WriteTimeout, err)
	}
	return nil
}

// compareAndDelete deletes the key only when it still carries the
// caller's owner token.
var compareAndDeleteScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// compareAndExtend resets the TTL only when the key still carries the
// caller's owner token.
var compareAndExtendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore implements Store on a Redis server. Set-if-absent maps to
// SET NX PX; the compare-and-swap operations run as Lua scripts so the
// read and the write are atomic.
type RedisStore struct {
	rdb      *goredis.Client
	log      *logger.Logger
	ownsConn bool
}

// NewRedisStore connects to Redis with the given configuration.
func NewRedisStore(cfg RedisConfig, log *logger.Logger) (*RedisStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dlock redis config: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	log.Info("redis lock store created", logger.Fields(
		"addr", cfg.Addr,
		"db", cfg.DB,
	))
	return &RedisStore{rdb: rdb, log: log, ownsConn: true}, nil
}

// NewRedisStoreFromClient wraps an existing go-redis client. Close does
// not close a client provided this way.
func NewRedisStoreFromClient(rdb *goredis.Client, log *logger.Logger) *RedisStore {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisStore{rdb: rdb, log: log}
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("dlock redis ping: %w", err)
	}
	return nil
}

// SetIfAbsent stores value under key with the given TTL via SET NX PX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dlock: set %q: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete deletes key only if its value equals expected.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.rdb, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("dlock: compare-and-delete %q: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndExtend resets the TTL of key only if its value equals
// expected.
func (s *RedisStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	n, err := compareAndExtendScript.Run(ctx, s.rdb, []string{key}, expected, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("dlock: compare-and-extend %q: %w", key, err)
	}
	return n == 1, nil
}

// Close closes the underlying connection when this store owns it.
func (s *RedisStore) Close() error {
	if !s.ownsConn {
		return nil
	}
	return s.rdb.Close()
}
