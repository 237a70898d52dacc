package calsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klokku/calsync/internal/utils"
	"github.com/klokku/calsync/pkg/conflict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService returns a result numbered by call, so repeated answers are recognizable.
type countingService struct {
	mu    sync.Mutex
	calls int
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (s *countingService) SyncToRemote(ctx context.Context, ownerId int, request SyncRequest) (SyncResult, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if err := ctx.Err(); err != nil {
		return SyncResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return SyncResult{}, s.err
	}
	result := newResult(request.DryRun)
	result.QuotaUsed = s.calls
	return result, nil
}

func (s *countingService) ResolveConflicts(ctx context.Context, ownerId int, conflicts []conflict.Conflict, resolutions []conflict.Resolution) (SyncResult, error) {
	return newResult(false), nil
}

func (s *countingService) DetectConflicts(ctx context.Context, ownerId int, dateRange DateRange) (SyncResult, error) {
	return newResult(false), nil
}

func (s *countingService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func keyedRequest(key string) SyncRequest {
	return SyncRequest{Range: DateRange{From: "2024-01-01", To: "2024-01-31"}, IdempotencyKey: key}
}

func TestIdempotentService(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	t.Run("should return the first result for a repeated key", func(t *testing.T) {
		// given
		next := &countingService{}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)

		// when
		first, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
		require.NoError(t, err)
		second, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))

		// then
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, next.callCount())
	})

	t.Run("should keep keys of different owners apart", func(t *testing.T) {
		// given
		next := &countingService{}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)

		// when
		_, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
		require.NoError(t, err)
		_, err = service.SyncToRemote(ctx, 2, keyedRequest("k1"))

		// then
		require.NoError(t, err)
		assert.Equal(t, 2, next.callCount())
	})

	t.Run("should reject a key reused for another request", func(t *testing.T) {
		// given
		next := &countingService{}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)
		_, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
		require.NoError(t, err)
		other := keyedRequest("k1")
		other.Range.To = "2024-02-29"

		// when
		_, err = service.SyncToRemote(ctx, 1, other)

		// then
		assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
		assert.Equal(t, 1, next.callCount())
	})

	t.Run("should ignore the order of event ids", func(t *testing.T) {
		// given
		a := keyedRequest("k1")
		a.EventIds = []string{"e2", "e1"}
		b := keyedRequest("k1")
		b.EventIds = []string{"e1", "e2"}

		// then
		assert.Equal(t, Fingerprint(a), Fingerprint(b))
	})

	t.Run("should sync again once the result expired", func(t *testing.T) {
		// given
		clock := &utils.MockClock{FixedNow: start}
		next := &countingService{}
		service := NewIdempotentService(next, NewMemoryResultCache(clock), time.Hour)
		_, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
		require.NoError(t, err)
		clock.Advance(time.Hour)

		// when
		result, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))

		// then
		require.NoError(t, err)
		assert.Equal(t, 2, result.QuotaUsed)
	})

	t.Run("should never cache dry runs", func(t *testing.T) {
		// given
		next := &countingService{}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)
		req := keyedRequest("k1")
		req.DryRun = true

		// when
		_, err := service.SyncToRemote(ctx, 1, req)
		require.NoError(t, err)
		_, err = service.SyncToRemote(ctx, 1, req)
		require.NoError(t, err)
		_, err = service.SyncToRemote(ctx, 1, keyedRequest("k1"))

		// then
		require.NoError(t, err)
		assert.Equal(t, 3, next.callCount())
	})

	t.Run("should not cache failures", func(t *testing.T) {
		// given
		next := &countingService{err: errors.New("store down")}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)
		_, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
		require.Error(t, err)
		next.err = nil

		// when
		_, err = service.SyncToRemote(ctx, 1, keyedRequest("k1"))

		// then
		require.NoError(t, err)
		assert.Equal(t, 2, next.callCount())
	})

	t.Run("should run concurrent requests with one key only once", func(t *testing.T) {
		// given
		next := &countingService{gate: make(chan struct{})}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)
		var wg sync.WaitGroup
		results := make([]SyncResult, 5)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
				assert.NoError(t, err)
				results[i] = r
			}()
		}

		// when
		time.Sleep(50 * time.Millisecond)
		close(next.gate)
		wg.Wait()

		// then
		assert.Equal(t, 1, next.callCount())
		for _, r := range results {
			assert.Equal(t, 1, r.QuotaUsed)
		}
	})

	t.Run("should finish a shared sync when the first caller gives up", func(t *testing.T) {
		// given
		next := &countingService{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
		service := NewIdempotentService(next, NewMemoryResultCache(&utils.MockClock{FixedNow: start}), time.Hour)
		firstCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var firstErr error
		firstDone := make(chan struct{})
		go func() {
			defer close(firstDone)
			_, firstErr = service.SyncToRemote(firstCtx, 1, keyedRequest("k1"))
		}()
		<-next.entered

		waiting := make(chan SyncResult, 1)
		go func() {
			r, err := service.SyncToRemote(ctx, 1, keyedRequest("k1"))
			assert.NoError(t, err)
			waiting <- r
		}()
		time.Sleep(50 * time.Millisecond)

		// when
		cancel()
		close(next.gate)

		// then
		second := <-waiting
		<-firstDone
		assert.NoError(t, firstErr)
		assert.Equal(t, 1, second.QuotaUsed)
		assert.Equal(t, 1, next.callCount())
	})
}
