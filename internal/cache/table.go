package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"excelanalyst/internal/models"
	"excelanalyst/internal/redis"
)

const (
	keyPrefix     = "excelanalyst:table:"
	formatVersion = 1
)

// store is the subset of the redis client the cache needs.
type store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Touch(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// TableCache keeps parse results in redis keyed by the digest of the file
// content, so re-uploading the same file skips parsing.
type TableCache struct {
	store  store
	ttl    time.Duration
	logger *zap.Logger
}

type envelope struct {
	Version int                 `msgpack:"v"`
	Table   *models.ParsedTable `msgpack:"t"`
}

func NewTableCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *TableCache {
	return newTableCache(client, ttl, logger)
}

func newTableCache(s store, ttl time.Duration, logger *zap.Logger) *TableCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableCache{store: s, ttl: ttl, logger: logger.Named("cache")}
}

// Key derives the cache key. The extension is part of it because the same
// bytes parse differently as csv and xlsx.
func Key(fileName string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(filepath.Ext(fileName))))
	h.Write([]byte{0})
	h.Write(data)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Load returns the cached table, or (nil, nil) on a miss. The stored file
// name is replaced by fileName since identical content may be uploaded under
// another name.
func (c *TableCache) Load(ctx context.Context, fileName string, data []byte) (*models.ParsedTable, error) {
	key := Key(fileName, data)
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	table, err := decodeTable(raw)
	if err != nil {
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.store.Del(ctx, key)
		return nil, nil
	}
	if remaining, err := c.store.TTL(ctx, key); err == nil {
		c.logger.Debug("table cache hit", zap.String("key", key), zap.Duration("remaining_ttl", remaining))
	}
	if err := c.store.Touch(ctx, key, c.ttl); err != nil {
		c.logger.Debug("touch cache entry failed", zap.Error(err))
	}
	table.FileName = fileName
	return table, nil
}

func (c *TableCache) Store(ctx context.Context, fileName string, data []byte, table *models.ParsedTable) error {
	if table == nil {
		return errors.New("nil table")
	}
	raw, err := encodeTable(table)
	if err != nil {
		return err
	}
	key := Key(fileName, data)
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	c.logger.Debug("table cached", zap.String("key", key), zap.Int("bytes", len(raw)))
	return nil
}

func encodeTable(table *models.ParsedTable) ([]byte, error) {
	raw, err := msgpack.Marshal(envelope{Version: formatVersion, Table: table})
	if err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}
	return raw, nil
}

func decodeTable(raw []byte) (*models.ParsedTable, error) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if env.Version != formatVersion || env.Table == nil {
		return nil, fmt.Errorf("unsupported cache format version %d", env.Version)
	}
	return env.Table, nil
}
