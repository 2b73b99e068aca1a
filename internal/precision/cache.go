// Package precision holds per-exchange symbol metadata (tick size, step
// size, min quantity, min notional) refreshed on a TTL, grounded on the
// original system's precision_service/precision_validator split: one pass
// fills the cache, a second pass re-validates a computed order against
// whatever is cached right now.
package precision

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"spotgrid-engine/pkg/gridcalc"
)

// Mode controls the cache's behaviour on a cache miss.
type Mode string

const (
	// ModeStrict blocks the order when the symbol is missing.
	ModeStrict Mode = "strict"
	// ModeLenient falls back to configured defaults and logs.
	ModeLenient Mode = "lenient"
)

// Source fetches the live rule set for an exchange, e.g. from the
// exchange gateway's GetPrecisionRules capability.
type Source interface {
	FetchRules(ctx context.Context, exchange string) (map[string]gridcalc.PrecisionRules, error)
}

// Cache is a TTL-refreshed, per-exchange symbol → rules map.
type Cache struct {
	source  Source
	ttl     time.Duration
	mode    Mode
	defaults gridcalc.PrecisionRules

	mu        sync.RWMutex
	rules     map[string]map[string]gridcalc.PrecisionRules
	fetchedAt map[string]time.Time
}

// Config configures a Cache.
type Config struct {
	TTL      time.Duration `json:",default=60m"`
	Mode     Mode          `json:",default=strict"`
	Defaults gridcalc.PrecisionRules `json:"-"`
}

// New constructs a Cache backed by source.
func New(source Source, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStrict
	}
	return &Cache{
		source:    source,
		ttl:       cfg.TTL,
		mode:      cfg.Mode,
		defaults:  cfg.Defaults,
		rules:     make(map[string]map[string]gridcalc.PrecisionRules),
		fetchedAt: make(map[string]time.Time),
	}
}

// GetPrecisionForSymbol returns the complete rule set for (exchange,
// symbol), refreshing from source if the TTL has elapsed. In strict mode
// a missing symbol after refresh is an error; in lenient mode it returns
// the configured defaults and logs.
func (c *Cache) GetPrecisionForSymbol(ctx context.Context, exchange, symbol string) (gridcalc.PrecisionRules, error) {
	if err := c.ensureFresh(ctx, exchange); err != nil {
		return gridcalc.PrecisionRules{}, err
	}

	c.mu.RLock()
	rules, ok := c.rules[exchange][symbol]
	c.mu.RUnlock()
	if ok {
		return rules, nil
	}

	if c.mode == ModeLenient {
		logx.WithContext(ctx).Errorf("precision: %s/%s missing, using defaults", exchange, symbol)
		return c.defaults, nil
	}
	return gridcalc.PrecisionRules{}, &MissingSymbolError{Exchange: exchange, Symbol: symbol}
}

func (c *Cache) ensureFresh(ctx context.Context, exchange string) error {
	c.mu.RLock()
	last, seen := c.fetchedAt[exchange]
	c.mu.RUnlock()
	if seen && time.Since(last) < c.ttl {
		return nil
	}

	fresh, err := c.source.FetchRules(ctx, exchange)
	if err != nil {
		if seen {
			// Keep serving the stale map rather than fail closed on a
			// transient refresh error once we've seen this exchange before.
			logx.WithContext(ctx).Errorf("precision: refresh failed for %s, serving stale cache: %v", exchange, err)
			return nil
		}
		return err
	}

	c.mu.Lock()
	c.rules[exchange] = fresh
	c.fetchedAt[exchange] = time.Now()
	c.mu.Unlock()
	return nil
}

// MissingSymbolError is returned in strict mode when a symbol has no
// cached rules after a refresh attempt.
type MissingSymbolError struct {
	Exchange string
	Symbol   string
}

func (e *MissingSymbolError) Error() string {
	return "precision: no rules cached for " + e.Exchange + "/" + e.Symbol
}
