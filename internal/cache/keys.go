// Package cache builds the Redis key namespace and TTL set shared by the
// precision cache, the positions read path, and the queue snapshot. The
// distributed lock/health/blacklist primitives live in their own package
// since they need atomic SETNX semantics the cache.Cache wrapper doesn't
// expose.
package cache

import (
	"fmt"
	"strings"
	"time"

	"spotgrid-engine/internal/config"
)

// Namespace is the Redis key prefix for the engine.
const Namespace = "spotgrid"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class, useful for half/double TTL variants.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Precision & Price Keys -------------------------------------------------

// PrecisionRulesKey caches an exchange's full symbol precision map.
func PrecisionRulesKey(exchange string) string {
	return formatKey("precision", exchange)
}

// TickerKey caches the latest ticker for one exchange/symbol pair.
func TickerKey(exchange, symbol string) string {
	return formatKey("ticker", exchange, symbol)
}

// --- Position Group Keys -----------------------------------------------------

// PositionGroupSnapshotKey caches a rendered PositionGroup summary for fast
// reads on the operator CLI / status surface.
func PositionGroupSnapshotKey(groupID string) string {
	return formatKey("group", "snapshot", groupID)
}

// UserOpenSlotsKey caches a user's open-position count between pool checks.
func UserOpenSlotsKey(userID string) string {
	return formatKey("pool", "slots", userID)
}

// --- Queue Keys --------------------------------------------------------------

// QueueSnapshotKey caches the ordered queued-signal list for a symbol, used
// to avoid a database round trip on every promotion check.
func QueueSnapshotKey(userID, symbol, timeframe, exchange string) string {
	return formatKey("queue", userID, symbol, timeframe, exchange)
}

// --- Risk Keys ----------------------------------------------------------------

// RiskTimerKey caches a PositionGroup's risk-timer expiry for cheap polling.
func RiskTimerKey(groupID string) string {
	return formatKey("risk", "timer", groupID)
}

// --- TTL Helpers --------------------------------------------------------------

// PrecisionTTL returns the TTL for cached precision rules.
func PrecisionTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// TickerTTL returns the TTL for cached ticker reads.
func TickerTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// PositionGroupSnapshotTTL returns the TTL for cached group snapshots.
func PositionGroupSnapshotTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLMedium, 0.5) // target ~30s when medium=60s
}

// UserOpenSlotsTTL returns the TTL for cached slot counts.
func UserOpenSlotsTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLShort, 0.5)
}

// QueueSnapshotTTL returns the TTL for cached queue snapshots.
func QueueSnapshotTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// RiskTimerTTL returns the TTL for cached risk timer reads.
func RiskTimerTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// FormatCacheKey is exported for dynamic key construction when patterns
// are not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}

// BuildKeyWithSuffix appends an arbitrary suffix to an existing key.
func BuildKeyWithSuffix(baseKey, suffix string) string {
	if strings.TrimSpace(suffix) == "" {
		return baseKey
	}
	return fmt.Sprintf("%s:%s", baseKey, strings.TrimSpace(suffix))
}
