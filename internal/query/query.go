// Package query is a small fetch-and-cache layer: every key has one cache
// slot and at most one request in flight, active keys are polled, failed
// fetches are retried with exponential backoff, and keys can be invalidated.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"user_console/internal/observability"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is a snapshot of one cache slot.
type Result[T any] struct {
	Status     Status
	Data       T
	Err        error
	IsFetching bool
	// Stale is set from invalidation until a fetch started after it lands.
	Stale     bool
	UpdatedAt time.Time
}

func (r Result[T]) IsLoading() bool { return r.Status == StatusLoading }

// HasData reports whether at least one fetch for the key has succeeded.
func (r Result[T]) HasData() bool { return !r.UpdatedAt.IsZero() }

type FetchFunc[K comparable, T any] func(ctx context.Context, key K) (T, error)

type Options struct {
	// RefetchInterval is the polling period for observed keys.
	RefetchInterval time.Duration
	// Retry is the number of extra attempts after a failed fetch.
	Retry int
	// RetryDelay returns the pause before retry number attempt (0-based).
	RetryDelay func(attempt int) time.Duration
	// Retryable filters which errors are retried. nil retries everything.
	Retryable func(error) bool
	// ActiveWindow is how long a key keeps being polled after its last Observe.
	ActiveWindow time.Duration
	// CacheTime drops entries nobody observed for that long.
	CacheTime time.Duration
	// FetchTimeout bounds a single background fetch including retries.
	FetchTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		RefetchInterval: 3 * time.Second,
		Retry:           3,
		RetryDelay:      ExponentialBackoff(time.Second, 30*time.Second),
		ActiveWindow:    6 * time.Second,
		CacheTime:       5 * time.Minute,
		FetchTimeout:    2 * time.Minute,
	}
}

type entry[T any] struct {
	data      T
	err       error
	updatedAt time.Time
	stale     bool
	fetching  int

	observedAt time.Time
	gen        uint64 // bumped on invalidation so new fetches never join older flights
	startedSeq uint64 // last fetch handed out
	appliedSeq uint64 // newest fetch whose outcome is stored
}

type ticket struct {
	seq uint64
	gen uint64
}

// Query caches the results of fetch per key.
type Query[K comparable, T any] struct {
	name  string
	fetch FetchFunc[K, T]
	opts  Options

	mu      sync.Mutex
	entries map[K]*entry[T]
	group   singleflight.Group

	// background fetches outlive the request that triggered them
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func New[K comparable, T any](name string, fetch FetchFunc[K, T], opts Options) *Query[K, T] {
	def := DefaultOptions()
	if opts.RefetchInterval <= 0 {
		opts.RefetchInterval = def.RefetchInterval
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	if opts.RetryDelay == nil {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 2 * opts.RefetchInterval
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = def.CacheTime
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Query[K, T]{
		name:    name,
		fetch:   fetch,
		opts:    opts,
		entries: make(map[K]*entry[T]),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Observe returns the current snapshot for key without blocking. It marks
// the key active and starts a background fetch when the slot is empty or
// stale and no request for it is in flight.
func (q *Query[K, T]) Observe(key K) Result[T] {
	q.mu.Lock()
	e := q.entryLocked(key)
	e.observedAt = q.now()

	needsFetch := (e.updatedAt.IsZero() && e.err == nil) || e.stale
	if needsFetch && e.fetching == 0 {
		q.startLocked(key, e)
	} else if !e.updatedAt.IsZero() {
		observability.GlobalMetrics.CacheHitsTotal.WithLabelValues(q.name).Inc()
	}

	res := snapshot(e)
	q.mu.Unlock()
	return res
}

// Peek returns the snapshot for key without marking it active or fetching.
func (q *Query[K, T]) Peek(key K) (Result[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return Result[T]{Status: StatusLoading}, false
	}
	return snapshot(e), true
}

// Fetch loads key and blocks until the shared request for it completes.
func (q *Query[K, T]) Fetch(ctx context.Context, key K) (T, error) {
	q.mu.Lock()
	e := q.entryLocked(key)
	t := q.beginLocked(e)
	q.mu.Unlock()

	return q.run(ctx, key, t)
}

// Refetch invalidates key and loads it once, blocking.
func (q *Query[K, T]) Refetch(ctx context.Context, key K) (T, error) {
	q.mu.Lock()
	e := q.entryLocked(key)
	e.stale = true
	e.gen++
	t := q.beginLocked(e)
	q.mu.Unlock()

	return q.run(ctx, key, t)
}

// Invalidate marks key stale. An active key is refetched in the background.
func (q *Query[K, T]) Invalidate(key K) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return
	}
	q.invalidateLocked(key, e)
}

// InvalidateAll marks every key stale.
func (q *Query[K, T]) InvalidateAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, e := range q.entries {
		q.invalidateLocked(key, e)
	}
}

// MarkAllStale marks every key stale without fetching anything; each key is
// reloaded the next time it is observed or polled.
func (q *Query[K, T]) MarkAllStale() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		e.stale = true
		e.gen++
	}
}

// Run polls active keys every RefetchInterval until ctx is done or Close is
// called, and drops entries unobserved for longer than CacheTime.
func (q *Query[K, T]) Run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.RefetchInterval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"query":    q.name,
		"interval": q.opts.RefetchInterval,
	}).Info("Query poller started")

	for {
		select {
		case <-ticker.C:
			q.poll()
		case <-ctx.Done():
			return
		case <-q.ctx.Done():
			return
		}
	}
}

// Close stops the poller and cancels background fetches.
func (q *Query[K, T]) Close() {
	q.cancel()
}

func (q *Query[K, T]) poll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for key, e := range q.entries {
		idle := now.Sub(e.observedAt)
		switch {
		case idle > q.opts.CacheTime && e.fetching == 0:
			delete(q.entries, key)
		case idle <= q.opts.ActiveWindow && e.fetching == 0:
			e.stale = true
			q.startLocked(key, e)
		}
	}
}

func (q *Query[K, T]) invalidateLocked(key K, e *entry[T]) {
	e.stale = true
	e.gen++
	if q.now().Sub(e.observedAt) <= q.opts.ActiveWindow {
		q.startLocked(key, e)
	}
}

func (q *Query[K, T]) entryLocked(key K) *entry[T] {
	e, ok := q.entries[key]
	if !ok {
		e = &entry[T]{}
		q.entries[key] = e
	}
	return e
}

func (q *Query[K, T]) beginLocked(e *entry[T]) ticket {
	e.startedSeq++
	e.fetching++
	return ticket{seq: e.startedSeq, gen: e.gen}
}

func (q *Query[K, T]) startLocked(key K, e *entry[T]) {
	if e.updatedAt.IsZero() {
		observability.GlobalMetrics.CacheMissesTotal.WithLabelValues(q.name).Inc()
	}
	t := q.beginLocked(e)

	go func() {
		ctx, cancel := context.WithTimeout(q.ctx, q.opts.FetchTimeout)
		defer cancel()
		_, _ = q.run(ctx, key, t)
	}()
}

// run performs the shared request for key and stores its outcome unless a
// newer fetch for the same key has already been applied.
func (q *Query[K, T]) run(ctx context.Context, key K, t ticket) (T, error) {
	ch := q.group.DoChan(fmt.Sprintf("%v#%d", key, t.gen), func() (any, error) {
		return q.fetchWithRetry(ctx, key)
	})

	var (
		data T
		err  error
	)
	select {
	case r := <-ch:
		if r.Err != nil {
			err = r.Err
		} else {
			data = r.Val.(T)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.entryLocked(key)
	e.fetching--
	if e.fetching < 0 {
		e.fetching = 0
	}

	if t.seq <= e.appliedSeq || errors.Is(err, context.Canceled) {
		return data, err
	}

	e.appliedSeq = t.seq
	if err != nil {
		e.err = err
		return data, err
	}

	e.data = data
	e.err = nil
	e.updatedAt = q.now()
	if t.gen == e.gen {
		e.stale = false
	}
	return data, nil
}

func (q *Query[K, T]) fetchWithRetry(ctx context.Context, key K) (T, error) {
	var (
		data T
		err  error
	)

	for attempt := 0; ; attempt++ {
		data, err = q.fetch(ctx, key)
		if err == nil {
			return data, nil
		}

		if attempt >= q.opts.Retry || (q.opts.Retryable != nil && !q.opts.Retryable(err)) {
			break
		}

		delay := q.opts.RetryDelay(attempt)
		observability.GlobalMetrics.FetchRetriesTotal.WithLabelValues(q.name).Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"query":   q.name,
			"key":     key,
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("Fetch failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return data, ctx.Err()
		}
	}

	observability.GlobalMetrics.FetchFailuresTotal.WithLabelValues(q.name).Inc()
	logrus.WithError(err).WithFields(logrus.Fields{
		"query": q.name,
		"key":   key,
	}).Error("Fetch failed")
	return data, err
}

func snapshot[T any](e *entry[T]) Result[T] {
	res := Result[T]{
		Data:       e.data,
		Err:        e.err,
		IsFetching: e.fetching > 0,
		Stale:      e.stale,
		UpdatedAt:  e.updatedAt,
	}

	switch {
	case e.err != nil:
		res.Status = StatusError
	case e.updatedAt.IsZero():
		res.Status = StatusLoading
	default:
		res.Status = StatusSuccess
	}
	return res
}
