package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "busfleet:"

// Every stored value starts with one of these bytes naming its encoding, so a
// reader never has to know how the writer chose to store it.
const (
	encodingJSON byte = 'j'
	encodingGzip byte = 'z'
)

const deleteBatch = 100

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisCache is the catalog Backend on Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisCache(opts RedisOptions, logger *slog.Logger) (*RedisCache, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", opts.Addr)
	}

	return &RedisCache{
		client: client,
		prefix: opts.Prefix,
		logger: logger.With("component", "redis_cache"),
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.put(ctx, key, value, ttl, false)
}

func (c *RedisCache) SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.put(ctx, key, value, ttl, true)
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	return c.fetch(ctx, key, dest)
}

// GetJSONCompressed reads like GetJSON; the stored header decides decoding.
func (c *RedisCache) GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error) {
	return c.fetch(ctx, key, dest)
}

func (c *RedisCache) put(ctx context.Context, key string, value any, ttl time.Duration, compress bool) error {
	data, err := encodeValue(value, compress)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	c.logger.Debug("cache set", "key", key, "size_bytes", len(data), "compressed", compress, "ttl", ttl)
	return nil
}

// fetch reports a miss for absent keys. An entry that cannot be decoded is
// deleted and also reported as a miss so the caller refills it.
func (c *RedisCache) fetch(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "redis get %s", key)
	}

	if err := decodeValue(data, dest); err != nil {
		c.logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
		if delErr := c.client.Del(ctx, c.key(key)).Err(); delErr != nil {
			c.logger.Debug("delete unreadable entry failed", "key", key, "error", delErr)
		}
		return false, nil
	}
	return true, nil
}

// DeletePattern unlinks every prefixed key matching a glob, in pipelined
// batches.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, c.key(pattern), deleteBatch).Iterator()
	batch := make([]string, 0, deleteBatch)
	removed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		pipe := c.client.Pipeline()
		pipe.Unlink(ctx, batch...)
		if _, err := pipe.Exec(ctx); err != nil {
			return errors.Wrap(err, "redis unlink")
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == deleteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "redis scan")
	}
	if err := flush(); err != nil {
		return err
	}

	c.logger.Debug("cache keys removed", "pattern", pattern, "count", removed)
	return nil
}

func encodeValue(value any, compress bool) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if !compress {
		return append([]byte{encodingJSON}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(encodingGzip)
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte, dest any) error {
	if len(data) == 0 {
		return errors.New("empty entry")
	}

	body := data[1:]
	switch data[0] {
	case encodingJSON:
	case encodingGzip:
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "gzip header")
		}
		defer gz.Close()
		if body, err = io.ReadAll(gz); err != nil {
			return errors.Wrap(err, "gzip body")
		}
	default:
		return errors.Errorf("unknown encoding %q", data[0])
	}
	return json.Unmarshal(body, dest)
}
