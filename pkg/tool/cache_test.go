package tool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/tool"
)

func TestCacheReadThrough(t *testing.T) {
	cache := tool.NewCache(time.Hour)
	calls := 0
	fetch := func(ctx context.Context) (*tool.Result, error) {
		calls++
		return &tool.Result{Raw: []byte(`{"n":1}`)}, nil
	}

	result, hit, err := cache.Get(context.Background(), "k", fetch)
	gt.NoError(t, err)
	gt.False(t, hit)
	gt.V(t, result).NotNil()

	// second read is served from the cache
	result2, hit, err := cache.Get(context.Background(), "k", fetch)
	gt.NoError(t, err)
	gt.True(t, hit)
	gt.Equal(t, result, result2)
	gt.Equal(t, calls, 1)
}

func TestCacheSingleFlight(t *testing.T) {
	cache := tool.NewCache(time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (*tool.Result, error) {
		calls.Add(1)
		<-release
		return &tool.Result{Raw: []byte(`{"slow":true}`)}, nil
	}

	const waiters = 8
	results := make([]*tool.Result, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _, err := cache.Get(context.Background(), "slow", fetch)
			gt.NoError(t, err)
			results[i] = r
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// exactly one upstream call; every waiter got the same result
	gt.Equal(t, calls.Load(), int32(1))
	for i := 1; i < waiters; i++ {
		gt.Equal(t, results[0], results[i])
	}
}

func TestCacheFailuresNotCached(t *testing.T) {
	cache := tool.NewCache(time.Hour)
	calls := 0
	fetch := func(ctx context.Context) (*tool.Result, error) {
		calls++
		if calls == 1 {
			return nil, goerr.New("upstream down")
		}
		return &tool.Result{}, nil
	}

	_, _, err := cache.Get(context.Background(), "k", fetch)
	gt.Error(t, err)
	gt.Equal(t, cache.Len(), 0)

	// the next call goes upstream again and succeeds
	_, hit, err := cache.Get(context.Background(), "k", fetch)
	gt.NoError(t, err)
	gt.False(t, hit)
	gt.Equal(t, calls, 2)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := tool.NewCache(10 * time.Millisecond)
	calls := 0
	fetch := func(ctx context.Context) (*tool.Result, error) {
		calls++
		return &tool.Result{}, nil
	}

	_, _, err := cache.Get(context.Background(), "k", fetch)
	gt.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, hit, err := cache.Get(context.Background(), "k", fetch)
	gt.NoError(t, err)
	gt.False(t, hit)
	gt.Equal(t, calls, 2)
}
