// Package scheduler decides when each subscribed feed is refreshed. A
// delay queue orders feeds by fire time, a periodic enumeration sweep
// picks up feeds added by other replicas or left behind by crashes, and
// fired refreshes run on their own goroutines paced by a shared
// throttle so a large subscription list cannot stampede the sources.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kooklabs/ksbot/pkg/config"
	"github.com/kooklabs/ksbot/pkg/metrics"
	"github.com/kooklabs/ksbot/pkg/pacing"
	"github.com/kooklabs/ksbot/pkg/store"
)

// FeedLister enumerates the stored feeds. *store.Store satisfies it.
type FeedLister interface {
	ListFeeds() ([]*store.Feed, error)
}

// Refresher runs one feed's refresh cycle. *push.Pusher satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, f *store.Feed) error
}

// Scheduler owns the refresh timing for every subscribed feed. Feeds
// wait in a delay queue keyed by subscribe URL; a feed is re-queued by
// the enumeration sweep only after its previous wait has fired, so each
// feed has at most one pending refresh at a time.
type Scheduler struct {
	lister    FeedLister
	refresher Refresher
	throttle  *pacing.Throttle
	metrics   *metrics.Metrics
	logger    *slog.Logger

	minInterval       time.Duration
	enumerateInterval time.Duration

	mu      sync.Mutex
	queue   delayQueue
	pending map[string]struct{}
	wake    chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler over the stored feeds. m may be nil to
// disable metrics.
func New(lister FeedLister, refresher Refresher, cfg *config.RefreshConfig, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		lister:            lister,
		refresher:         refresher,
		throttle:          pacing.NewThrottle(cfg.ThrottlePieces, cfg.ThrottleUnit),
		metrics:           m,
		logger:            slog.Default().With("component", "scheduler"),
		minInterval:       cfg.MinInterval,
		enumerateInterval: cfg.EnumerateInterval,
		pending:           make(map[string]struct{}),
		wake:              make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
	}
}

// Run blocks driving the queue until ctx is canceled or Stop is called.
// The first enumeration happens immediately so a restart does not wait
// a full sweep interval before resuming refreshes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler starting",
		"min_interval", s.minInterval,
		"enumerate_interval", s.enumerateInterval)

	s.enumerate()

	sweep := time.NewTicker(s.enumerateInterval)
	defer sweep.Stop()

	for {
		timer := time.NewTimer(s.untilNext())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stopCh:
			timer.Stop()
			return nil
		case <-sweep.C:
			s.enumerate()
		case <-s.wake:
			// Head may have moved earlier, re-arm.
		case <-timer.C:
			s.fireDue(ctx)
		}
		timer.Stop()
	}
}

// Stop ends Run and waits for in-flight refreshes to finish. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Enqueue schedules one refresh of f after its delay, unless the feed
// already has one pending. It reports whether the feed was queued.
func (s *Scheduler) Enqueue(f *store.Feed) bool {
	s.mu.Lock()
	if _, ok := s.pending[f.SubscribeURL]; ok {
		s.mu.Unlock()
		return false
	}
	heap.Push(&s.queue, &entry{feed: f, fireAt: time.Now().Add(s.delayFor(f))})
	s.pending[f.SubscribeURL] = struct{}{}
	n := len(s.pending)
	s.mu.Unlock()

	s.metrics.PendingFeeds(n)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// PendingCount returns how many feeds are waiting to fire.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// delayFor honors the feed's advertised TTL but never polls faster than
// the configured floor.
func (s *Scheduler) delayFor(f *store.Feed) time.Duration {
	return max(time.Duration(f.TTL)*time.Minute, s.minInterval)
}

// enumerate queues every stored feed that is not already waiting.
func (s *Scheduler) enumerate() {
	feeds, err := s.lister.ListFeeds()
	if err != nil {
		s.logger.Error("Failed to enumerate feeds", "error", err)
		return
	}

	queued := 0
	for _, f := range feeds {
		if s.Enqueue(f) {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Debug("Enumeration sweep queued feeds", "queued", queued, "total", len(feeds))
	}
}

// untilNext returns how long Run may sleep before the head entry fires.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return s.enumerateInterval
	}
	return max(time.Until(s.queue[0].fireAt), 0)
}

// fireDue pops every entry whose time has come and hands each to a
// refresh goroutine gated by the throttle.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].fireAt.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.queue).(*entry)
		delete(s.pending, e.feed.SubscribeURL)
		n := len(s.pending)
		s.mu.Unlock()

		s.metrics.PendingFeeds(n)
		s.spawn(ctx, e.feed)
	}
}

func (s *Scheduler) spawn(ctx context.Context, f *store.Feed) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.throttle.Acquire(ctx); err != nil {
			return
		}
		defer s.throttle.Release()

		if err := s.refresher.Refresh(ctx, f); err != nil {
			s.logger.Warn("Feed refresh failed", "subscribe_url", f.SubscribeURL, "error", err)
		}
	}()
}
