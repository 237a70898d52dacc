package calsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/conflict"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const DefaultResultTTL = 24 * time.Hour

// CachedResult is a stored sync result together with the fingerprint of the request that produced it.
type CachedResult struct {
	Fingerprint string     `json:"fingerprint"`
	Result      SyncResult `json:"result"`
}

type ResultCache interface {
	Get(ctx context.Context, key string) (CachedResult, bool, error)
	Set(ctx context.Context, key string, entry CachedResult, ttl time.Duration) error
}

// IdempotentService answers a repeated sync request with the result of the first one.
// Requests are matched by owner and idempotency key. Dry runs are never cached.
type IdempotentService struct {
	next     Service
	cache    ResultCache
	ttl      time.Duration
	inFlight singleflight.Group
}

func NewIdempotentService(next Service, cache ResultCache, ttl time.Duration) *IdempotentService {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &IdempotentService{next: next, cache: cache, ttl: ttl}
}

func (s *IdempotentService) SyncToRemote(ctx context.Context, ownerId int, request SyncRequest) (SyncResult, error) {
	if request.DryRun || request.IdempotencyKey == "" {
		return s.next.SyncToRemote(ctx, ownerId, request)
	}

	key := cacheKey(ownerId, request.IdempotencyKey)
	fingerprint := Fingerprint(request)

	// The flight outlives a cancelled first caller, other callers may be waiting on it.
	flightCtx := context.WithoutCancel(ctx)
	value, err, shared := s.inFlight.Do(key, func() (any, error) {
		cached, found, err := s.cache.Get(flightCtx, key)
		if err != nil {
			log.Warnf("idempotency cache unavailable, syncing without it: %v", err)
		}
		if found {
			if cached.Fingerprint != fingerprint {
				return CachedResult{}, fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, request.IdempotencyKey)
			}
			log.Debugf("returning cached result for idempotency key %s", request.IdempotencyKey)
			return cached, nil
		}

		result, err := s.next.SyncToRemote(flightCtx, ownerId, request)
		if err != nil {
			return CachedResult{}, err
		}
		entry := CachedResult{Fingerprint: fingerprint, Result: result}
		if err := s.cache.Set(flightCtx, key, entry, s.ttl); err != nil {
			log.Warnf("could not cache result for idempotency key %s: %v", request.IdempotencyKey, err)
		}
		return entry, nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	entry := value.(CachedResult)
	if shared && entry.Fingerprint != fingerprint {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, request.IdempotencyKey)
	}
	return entry.Result, nil
}

func (s *IdempotentService) ResolveConflicts(ctx context.Context, ownerId int, conflicts []conflict.Conflict, resolutions []conflict.Resolution) (SyncResult, error) {
	return s.next.ResolveConflicts(ctx, ownerId, conflicts, resolutions)
}

func (s *IdempotentService) DetectConflicts(ctx context.Context, ownerId int, dateRange DateRange) (SyncResult, error) {
	return s.next.DetectConflicts(ctx, ownerId, dateRange)
}

func cacheKey(ownerId int, idempotencyKey string) string {
	return fmt.Sprintf("calsync:sync:%d:%s", ownerId, idempotencyKey)
}

// Fingerprint identifies the content of a request regardless of event id order.
func Fingerprint(request SyncRequest) string {
	ids := slices.Clone(request.EventIds)
	slices.Sort(ids)
	data, _ := json.Marshal(struct {
		From     string   `json:"from"`
		To       string   `json:"to"`
		EventIds []string `json:"eventIds"`
	}{request.Range.From, request.Range.To, ids})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryResultCache keeps results in process memory. Expired entries are dropped on access.
type MemoryResultCache struct {
	mu      sync.Mutex
	clock   utils.Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   CachedResult
	expires time.Time
}

func NewMemoryResultCache(clock utils.Clock) *MemoryResultCache {
	return &MemoryResultCache{clock: clock, entries: make(map[string]memoryEntry)}
}

func (c *MemoryResultCache) Get(ctx context.Context, key string) (CachedResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return CachedResult{}, false, nil
	}
	if !c.clock.Now().Before(entry.expires) {
		delete(c.entries, key)
		return CachedResult{}, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryResultCache) Set(ctx context.Context, key string, value CachedResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expires: c.clock.Now().Add(ttl)}
	return nil
}
