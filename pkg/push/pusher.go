// Package push runs the feed refresh pipeline: pull a feed, diff it
// against the stored snapshot, and deliver the new posts to every
// subscribed channel.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/metrics"
	"github.com/kooklabs/ksbot/pkg/store"
)

// downWarnAfter is how long a feed may keep failing before the operator
// is told to consider removing it.
const downWarnAfter = 7 * 24 * time.Hour

// Puller downloads and parses a feed document. *feed.Fetcher satisfies it.
type Puller interface {
	Pull(ctx context.Context, url string) (*feed.Feed, error)
}

// Sender delivers chat messages. *kook.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, msg *kook.MessageCreate) error
}

// Store is the slice of the subscription store the pipeline needs.
type Store interface {
	UpdateOrCreateFeed(f *store.Feed) (*store.Feed, error)
	FeedChannels(subscribeURL string) ([]*store.Channel, error)
}

// Pusher refreshes feeds and pushes their new posts. Send failures are
// logged per post and never abort the rest of a cycle; only pull and
// storage failures fail the cycle itself.
type Pusher struct {
	puller  Puller
	store   Store
	sender  Sender
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	filters map[string]*regexp.Regexp
}

// NewPusher creates the pipeline. m may be nil to disable metrics.
func NewPusher(puller Puller, st Store, sender Sender, m *metrics.Metrics) *Pusher {
	return &Pusher{
		puller:  puller,
		store:   st,
		sender:  sender,
		metrics: m,
		logger:  slog.Default().With("component", "push"),
		filters: make(map[string]*regexp.Regexp),
	}
}

// Refresh runs one cycle for f: pull, snapshot, diff, push. The stored
// snapshot is replaced even when nothing new came in, keeping DownTime
// and the fingerprint window current.
func (p *Pusher) Refresh(ctx context.Context, f *store.Feed) error {
	p.logger.Debug("Refreshing feed", "subscribe_url", f.SubscribeURL)

	parsed, err := p.puller.Pull(ctx, f.SubscribeURL)
	if err != nil {
		p.metrics.FeedFetched("error")
		p.reportDown(f)
		return fmt.Errorf("refresh %s: %w", f.SubscribeURL, err)
	}
	p.metrics.FeedFetched("ok")

	next := store.NewSnapshot(f.SubscribeURL, parsed)
	prior, err := p.store.UpdateOrCreateFeed(next)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", f.SubscribeURL, err)
	}

	fresh := newPostIndices(next, prior)
	if len(fresh) == 0 {
		p.logger.Debug("No new posts", "subscribe_url", f.SubscribeURL)
		return nil
	}

	channels, err := p.store.FeedChannels(f.SubscribeURL)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", f.SubscribeURL, err)
	}

	hash := store.Hash(f.SubscribeURL)
	for _, ch := range channels {
		filter := p.filter(ch.FeedRegex[hash])
		for _, i := range fresh {
			post := &parsed.Posts[i]
			if filter != nil && post.Title != "" && filter.MatchString(post.Title) {
				p.logger.Debug("Post suppressed by title filter",
					"channel_id", ch.ID, "title", post.Title)
				continue
			}
			if err := p.PushPost(ctx, ch.ID, post); err != nil {
				p.metrics.PushFailed()
				p.logger.Warn("Failed to push post",
					"channel_id", ch.ID, "link", post.Link, "error", err)
			}
		}
	}
	return nil
}

// PushPost formats and sends one post to a channel. Posts without a link
// cannot be delivered and are silently skipped.
func (p *Pusher) PushPost(ctx context.Context, channelID string, post *feed.Post) error {
	content, ok := FormatPost(post.Title, post.Link)
	if !ok {
		p.logger.Debug("Skipping post without link", "title", post.Title)
		return nil
	}

	err := p.sender.SendMessage(ctx, &kook.MessageCreate{
		Type:     kook.KMarkdownMessage,
		TargetID: channelID,
		Content:  content,
	})
	if err != nil {
		return fmt.Errorf("push post %s to %s: %w", post.Link, channelID, err)
	}
	p.metrics.PostPushed()
	return nil
}

// reportDown escalates the log level once a feed has been failing for a
// week straight. Removal stays the operator's call.
func (p *Pusher) reportDown(f *store.Feed) {
	if f.DownTime == 0 {
		return
	}
	down := time.Since(time.Unix(f.DownTime, 0))
	if down > downWarnAfter {
		p.logger.Error("Feed unreachable for over a week, consider unsubscribing it",
			"subscribe_url", f.SubscribeURL, "down", down.Round(time.Hour))
	}
}

// filter returns the compiled title filter for pattern, nil when the
// pattern is empty or does not compile. Compilations are cached; the
// interpreter validates patterns before persisting them, so an invalid
// one here means a corrupted record, not a user error.
func (p *Pusher) filter(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if re, ok := p.filters[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		p.logger.Warn("Ignoring invalid title filter", "pattern", pattern, "error", err)
		re = nil
	}
	p.filters[pattern] = re
	return re
}
