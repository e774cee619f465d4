package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		RefetchInterval: 20 * time.Millisecond,
		Retry:           3,
		RetryDelay:      func(int) time.Duration { return time.Millisecond },
	}
}

func TestExponentialBackoff(t *testing.T) {
	delay := ExponentialBackoff(time.Second, 30*time.Second)

	assert.Equal(t, time.Second, delay(0))
	assert.Equal(t, 2*time.Second, delay(1))
	assert.Equal(t, 4*time.Second, delay(2))
	assert.Equal(t, 16*time.Second, delay(4))
	assert.Equal(t, 30*time.Second, delay(5))
	assert.Equal(t, 30*time.Second, delay(40))
	assert.Equal(t, time.Second, delay(-1))
}

func TestObserve_LoadsInBackground(t *testing.T) {
	release := make(chan struct{})
	q := New("test", func(ctx context.Context, page int) ([]string, error) {
		<-release
		return []string{"a", "b"}, nil
	}, fastOptions())
	defer q.Close()

	res := q.Observe(1)
	assert.True(t, res.IsLoading())
	assert.True(t, res.IsFetching)
	assert.False(t, res.HasData())

	close(release)

	assert.Eventually(t, func() bool {
		return q.Observe(1).Status == StatusSuccess
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, q.Observe(1).Data)
}

func TestFetch_SharesOneRequestPerKey(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	q := New("test", func(ctx context.Context, page int) (int, error) {
		calls.Add(1)
		<-release
		return page * 10, nil
	}, fastOptions())
	defer q.Close()

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := q.Fetch(context.Background(), 2)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 20, v)
	}
}

func TestFetch_KeysAreSeparateSlots(t *testing.T) {
	q := New("test", func(ctx context.Context, page int) (int, error) {
		return page, nil
	}, fastOptions())
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)
	require.NoError(t, err)
	_, err = q.Fetch(context.Background(), 2)
	require.NoError(t, err)

	one, _ := q.Peek(1)
	two, _ := q.Peek(2)
	assert.Equal(t, 1, one.Data)
	assert.Equal(t, 2, two.Data)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	q := New("test", func(ctx context.Context, _ int) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	}, fastOptions())
	defer q.Close()

	v, err := q.Fetch(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	var delays []int
	opts := fastOptions()
	opts.RetryDelay = func(attempt int) time.Duration {
		delays = append(delays, attempt)
		return time.Millisecond
	}
	boom := errors.New("boom")
	q := New("test", func(ctx context.Context, _ int) (string, error) {
		calls.Add(1)
		return "", boom
	}, opts)
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
	assert.Equal(t, []int{0, 1, 2}, delays)

	res, ok := q.Peek(1)
	require.True(t, ok)
	assert.Equal(t, StatusError, res.Status)
	assert.ErrorIs(t, res.Err, boom)
}

func TestFetch_DoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	permanent := errors.New("bad request")
	opts := fastOptions()
	opts.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	q := New("test", func(ctx context.Context, _ int) (string, error) {
		calls.Add(1)
		return "", permanent
	}, opts)
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RetryStopsOnCancel(t *testing.T) {
	opts := fastOptions()
	opts.RetryDelay = func(int) time.Duration { return time.Hour }
	q := New("test", func(ctx context.Context, _ int) (string, error) {
		return "", errors.New("temporary")
	}, opts)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Fetch(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefetch_DoesNotJoinOlderFlight(t *testing.T) {
	var version atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		v := version.Load()
		if v == 0 {
			started <- struct{}{}
			<-release
		}
		return v, nil
	}, fastOptions())
	defer q.Close()

	q.Observe(1)
	<-started

	// the data changed while the first request is still in flight
	version.Store(1)
	v, err := q.Refetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	close(release)

	// the slow, older response must not overwrite the newer one
	time.Sleep(20 * time.Millisecond)
	res, _ := q.Peek(1)
	assert.Equal(t, int32(1), res.Data)
}

func TestInvalidate_RefetchesActiveKey(t *testing.T) {
	var calls atomic.Int32
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		return calls.Add(1), nil
	}, Options{RefetchInterval: time.Hour, RetryDelay: func(int) time.Duration { return 0 }})
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)
	require.NoError(t, err)
	q.Observe(1)

	q.Invalidate(1)

	assert.Eventually(t, func() bool {
		res, _ := q.Peek(1)
		return res.Data == 2 && !res.IsFetching
	}, time.Second, time.Millisecond)
}

func TestInvalidateAll_MarksInactiveKeysStale(t *testing.T) {
	var calls atomic.Int32
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		return calls.Add(1), nil
	}, Options{RefetchInterval: time.Hour, RetryDelay: func(int) time.Duration { return 0 }})
	defer q.Close()

	_, err := q.Fetch(context.Background(), 5)
	require.NoError(t, err)

	q.InvalidateAll()
	assert.Equal(t, int32(1), calls.Load(), "inactive keys are not refetched eagerly")

	q.Observe(5)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestRun_PollsObservedKeys(t *testing.T) {
	var calls atomic.Int32
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		return calls.Add(1), nil
	}, fastOptions())
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	assert.Eventually(t, func() bool {
		q.Observe(1)
		return calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestRun_StopsPollingIdleKeys(t *testing.T) {
	var calls atomic.Int32
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		return calls.Add(1), nil
	}, Options{
		RefetchInterval: 10 * time.Millisecond,
		ActiveWindow:    15 * time.Millisecond,
		CacheTime:       time.Hour,
	})
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a key never observed is not polled")
}

func TestObserve_KeepsDataWhileRefreshing(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		n := calls.Add(1)
		if n > 1 {
			<-release
		}
		return n, nil
	}, Options{RefetchInterval: time.Hour})
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)
	require.NoError(t, err)
	q.Observe(1)
	q.Invalidate(1)

	res := q.Observe(1)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int32(1), res.Data)
	assert.True(t, res.IsFetching)

	close(release)
}

func TestMarkAllStale_DoesNotFetch(t *testing.T) {
	var calls atomic.Int32
	q := New("test", func(ctx context.Context, _ int) (int32, error) {
		return calls.Add(1), nil
	}, Options{RefetchInterval: time.Hour})
	defer q.Close()

	_, err := q.Fetch(context.Background(), 1)
	require.NoError(t, err)
	q.Observe(1)

	q.MarkAllStale()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	v, err := q.Refetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, int32(2), calls.Load())
}
