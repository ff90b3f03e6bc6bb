package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/pkg/logging"
)

const keyPrefix = "scan_result"

// ScanCache is a read-through cache of finished scan results keyed by a
// digest of target and options. All failures are soft; a broken cache only
// costs rescans.
type ScanCache struct {
	redis  *RedisClient
	ttl    time.Duration
	logger *logging.Logger
}

// NewScanCache creates a scan result cache backed by Redis
func NewScanCache(redis *RedisClient, ttl time.Duration, logger *logging.Logger) *ScanCache {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &ScanCache{
		redis:  redis,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns a cached result for the target, if present
func (c *ScanCache) Get(ctx context.Context, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, bool) {
	data, err := c.redis.Get(ctx, c.key(target, options))
	if err != nil {
		if !IsMiss(err) {
			c.logger.WithError(err).Debug("Scan cache read failed")
		}
		return nil, false
	}

	var result orchestrator.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.WithError(err).Warn("Corrupt scan cache entry dropped")
		return nil, false
	}
	return &result, true
}

// Set stores a finished result
func (c *ScanCache) Set(ctx context.Context, target orchestrator.Target, options orchestrator.Options, result *orchestrator.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WithError(err).Warn("Scan result serialization failed")
		return
	}

	if err := c.redis.Set(ctx, c.key(target, options), data, c.ttl); err != nil {
		c.logger.WithError(err).Debug("Scan cache write failed")
	}
}

// key digests target and options into a stable cache key
func (c *ScanCache) key(target orchestrator.Target, options orchestrator.Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", target.Type, target.Input)
	if len(options) > 0 {
		// json.Marshal sorts map keys, so equal options digest equally
		if data, err := json.Marshal(options); err == nil {
			h.Write(data)
		}
	}
	return fmt.Sprintf("%s:%s", keyPrefix, hex.EncodeToString(h.Sum(nil)))
}
