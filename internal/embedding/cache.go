package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"coursesearch/internal/util"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Cache stores vectors by an opaque key. A miss is (nil, false, nil).
type Cache interface {
	Get(key string) ([]float32, bool, error)
	Put(key string, vec []float32) error
}

type BadgerCache struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.logger.Error(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.logger.Warn(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.logger.Debug(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debug(fmt.Sprintf(msg, items...)) }

// OpenBadgerCache opens (or creates) a cache directory. An empty dir keeps
// the cache in memory for the life of the process.
func OpenBadgerCache(dir string, logger *slog.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create embedding cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "embed-cache")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) Get(key string) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		vec, err = decodeVector(raw)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *BadgerCache) Put(key string, vec []float32) error {
	return c.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(key), encodeVector(vec))
	})
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector: %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}

// CachedClient answers repeated texts from a Cache and sends misses to the
// wrapped Client. Cache failures are logged and never fail an Embed.
type CachedClient struct {
	next   *Client
	cache  Cache
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCached(next *Client, cache Cache, logger *slog.Logger) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{next: next, cache: cache, logger: logger.With("component", "embed-cache")}
}

// cacheKey changes whenever the model or dimension does, so a reconfigured
// provider never reads vectors from the old one.
func (c *CachedClient) cacheKey(text string) string {
	return fmt.Sprintf("emb/%s/%d/%s", c.next.Model(), c.next.Dimension(), util.SHA256Hex([]byte(text)))
}

func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	vec, ok, err := c.cache.Get(key)
	if err != nil {
		c.logger.Warn("embedding cache read failed", "err", err)
	}
	if ok && len(vec) == c.next.Dimension() {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err = c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(key, vec); err != nil {
		c.logger.Warn("embedding cache write failed", "err", err)
	}
	return vec, nil
}

func (c *CachedClient) Model() string  { return c.next.Model() }
func (c *CachedClient) Dimension() int { return c.next.Dimension() }

// Stats reports cache hits and misses since construction.
func (c *CachedClient) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
