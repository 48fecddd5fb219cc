package idempotency

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/fxamacker/cbor/v2"

	"auction-engine/internal/models"
)

const minCacheBytes = 512 * 1024

var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// Cache remembers bid decisions by request id so a retried submission gets
// the original answer instead of a second decision
type Cache struct {
	cache *freecache.Cache
	ttl   time.Duration
}

// New creates a cache of sizeMB megabytes whose entries live for ttl
func New(sizeMB int, ttl time.Duration) *Cache {
	size := sizeMB * 1024 * 1024
	if size < minCacheBytes {
		size = minCacheBytes
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return &Cache{cache: freecache.NewCache(size), ttl: ttl}
}

// key length-prefixes every part so no two distinct triples share a key
func key(auctionID, bidderID, requestID string) []byte {
	b := make([]byte, 0, len(auctionID)+len(bidderID)+len(requestID)+3*binary.MaxVarintLen64)
	for _, part := range []string{auctionID, bidderID, requestID} {
		b = binary.AppendUvarint(b, uint64(len(part)))
		b = append(b, part...)
	}
	return b
}

// Get returns the remembered decision for the request
func (c *Cache) Get(auctionID, bidderID, requestID string) (models.BidResult, bool, error) {
	val, err := c.cache.Get(key(auctionID, bidderID, requestID))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return models.BidResult{}, false, nil
		}
		return models.BidResult{}, false, fmt.Errorf("idempotency: get %s: %w", requestID, err)
	}

	var res models.BidResult
	if err := cbor.Unmarshal(val, &res); err != nil {
		return models.BidResult{}, false, fmt.Errorf("idempotency: decode %s: %w", requestID, err)
	}
	return res, true, nil
}

// Put remembers the decision for the request
func (c *Cache) Put(auctionID, bidderID, requestID string, res models.BidResult) error {
	val, err := encMode.Marshal(res)
	if err != nil {
		return fmt.Errorf("idempotency: encode %s: %w", requestID, err)
	}
	if err := c.cache.Set(key(auctionID, bidderID, requestID), val, int(c.ttl.Seconds())); err != nil {
		return fmt.Errorf("idempotency: set %s: %w", requestID, err)
	}
	return nil
}

// Len returns the number of live entries
func (c *Cache) Len() int64 {
	return c.cache.EntryCount()
}
