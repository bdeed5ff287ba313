package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/matt-riley/facetz/internal/core"
)

const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// ChoiceCache is a read-through cache in front of choice enumeration.
// Concurrent misses for the same key share one load.
type ChoiceCache struct {
	store       Store
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
	logger      *slog.Logger
	onResult    func(result string)
}

const defaultLoadTimeout = 30 * time.Second

type Option func(*ChoiceCache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *ChoiceCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResultHook is called with ResultHit, ResultMiss or ResultError for
// every lookup.
func WithResultHook(fn func(result string)) Option {
	return func(c *ChoiceCache) {
		c.onResult = fn
	}
}

// WithLoadTimeout bounds a shared load. Loads run detached from the caller
// that started them so one cancelled request does not fail the others
// waiting on the same key.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(c *ChoiceCache) {
		if timeout > 0 {
			c.loadTimeout = timeout
		}
	}
}

func NewChoiceCache(store Store, ttl time.Duration, opts ...Option) *ChoiceCache {
	c := &ChoiceCache{
		store:       store,
		ttl:         ttl,
		loadTimeout: defaultLoadTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key identifies the choices of def for one catalog version and scope. Two
// definitions differing in any option never share a key.
func Key(def core.Definition, version int64, scope *core.Query) string {
	h := xxhash.New()
	_, _ = h.WriteString(def.CacheKey())
	_, _ = h.WriteString("|v")
	_, _ = h.WriteString(strconv.FormatInt(version, 10))
	_, _ = h.WriteString("|")
	if scope != nil {
		encoded, _ := json.Marshal(scope)
		_, _ = h.Write(encoded)
	}
	return "choices:" + def.ID() + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// Choices returns the cached set for key or calls load and stores its
// result. Store failures are logged and fall back to load.
func (c *ChoiceCache) Choices(ctx context.Context, key string, load func(context.Context) (core.ChoiceSet, error)) (core.ChoiceSet, error) {
	result := ResultMiss
	cached, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var set core.ChoiceSet
		if err := json.Unmarshal(cached, &set); err == nil {
			c.record(ResultHit)
			return set, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cached choices", "key", key)
	case errors.Is(err, ErrMiss):
	default:
		result = ResultError
		c.logger.WarnContext(ctx, "choice cache read failed", "key", key, "error", err)
	}

	c.record(result)
	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		set, err := load(loadCtx)
		if err != nil {
			return core.ChoiceSet{}, err
		}

		encoded, err := json.Marshal(set)
		if err != nil {
			return set, nil
		}
		if err := c.store.Set(loadCtx, key, encoded, c.ttl); err != nil {
			c.logger.WarnContext(loadCtx, "choice cache write failed", "key", key, "error", err)
		}
		return set, nil
	})

	select {
	case <-ctx.Done():
		return core.ChoiceSet{}, fmt.Errorf("load choices: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return core.ChoiceSet{}, fmt.Errorf("load choices: %w", res.Err)
		}
		return res.Val.(core.ChoiceSet), nil
	}
}

func (c *ChoiceCache) record(result string) {
	if c.onResult != nil {
		c.onResult(result)
	}
}
