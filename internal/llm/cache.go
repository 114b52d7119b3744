package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CacheConfig configures the persistent response cache.
type CacheConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// TTL expires entries; 0 keeps them forever.
	TTL    time.Duration
	Logger *slog.Logger
}

// ResponseCache stores completions keyed by a digest of the full request.
type ResponseCache struct {
	db     *badger.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenCache opens (or creates) a response cache.
func OpenCache(cfg CacheConfig) (*ResponseCache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("cache path is required for a persistent cache")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	return &ResponseCache{db: db, ttl: cfg.TTL}, nil
}

// Close releases the underlying database.
func (c *ResponseCache) Close() error {
	return c.db.Close()
}

// Stats returns hit and miss counts since the cache was opened.
func (c *ResponseCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResponseCache) get(key []byte) (*Response, bool) {
	var resp Response
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &resp)
		})
	})
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &resp, true
}

func (c *ResponseCache) put(key []byte, resp *Response) error {
	val, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// CachingProvider serves repeated identical requests from a ResponseCache.
type CachingProvider struct {
	inner  Provider
	cache  *ResponseCache
	model  string
	logger *slog.Logger
}

// WithCache wraps p so identical prompts are answered from cache. model
// namespaces the keys so switching models never returns stale answers.
func WithCache(p Provider, cache *ResponseCache, model string, logger *slog.Logger) Provider {
	if p == nil || cache == nil {
		return p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingProvider{inner: p, cache: cache, model: model, logger: logger}
}

func (c *CachingProvider) Name() string { return c.inner.Name() }

func (c *CachingProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	key := c.key(prompt, opts)
	if resp, ok := c.cache.get(key); ok {
		resp.Cached = true
		return resp, nil
	}

	resp, err := c.inner.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	if err := c.cache.put(key, resp); err != nil {
		c.logger.Warn("response cache write failed", "error", err)
	}
	return resp, nil
}

func (c *CachingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.Embed(ctx, texts)
}

func (c *CachingProvider) key(prompt *Prompt, opts *RequestOptions) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", c.inner.Name(), c.model, prompt.SystemPrompt)
	for _, m := range prompt.Messages {
		fmt.Fprintf(h, "%s\x00%s\x00", m.Role, m.Content)
		for _, img := range m.Images {
			h.Write([]byte(img.MediaType))
			h.Write(img.Data)
		}
	}
	if opts != nil {
		o, _ := json.Marshal(opts)
		h.Write(o)
	}
	return []byte("resp:" + hex.EncodeToString(h.Sum(nil)))
}
