package push

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/store"
)

const testFeedURL = "http://example.com/feed.xml"

type fakePuller struct {
	mu   sync.Mutex
	next *feed.Feed
	err  error
}

func (f *fakePuller) Pull(ctx context.Context, url string) (*feed.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.next, nil
}

func (f *fakePuller) serve(next *feed.Feed, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next, f.err = next, err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []*kook.MessageCreate
	err  error
}

func (s *fakeSender) SendMessage(ctx context.Context, msg *kook.MessageCreate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) messages() []*kook.MessageCreate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kook.MessageCreate(nil), s.sent...)
}

func newTestPusher(t *testing.T) (*Pusher, *store.Store, *fakePuller, *fakeSender) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	puller := &fakePuller{}
	sender := &fakeSender{}
	return NewPusher(puller, st, sender, nil), st, puller, sender
}

func subscribe(t *testing.T, st *store.Store, channelID string, parsed *feed.Feed) {
	t.Helper()
	require.NoError(t, st.Subscribe(channelID, store.NewSnapshot(testFeedURL, parsed)))
}

func parsedFeed(posts ...feed.Post) *feed.Feed {
	return &feed.Feed{Title: "Example", Link: "http://example.com", Posts: posts}
}

func post(title, link string) feed.Post {
	return feed.Post{Title: title, Link: link}
}

func TestRefreshPushesOnlyNewPosts(t *testing.T) {
	p, st, puller, sender := newTestPusher(t)

	v1 := parsedFeed(post("Old A", "http://example.com/a"), post("Old B", "http://example.com/b"))
	subscribe(t, st, "chan-1", v1)

	// One new post prepended, the old two still present.
	puller.serve(parsedFeed(
		post("New C", "http://example.com/c"),
		post("Old A", "http://example.com/a"),
		post("Old B", "http://example.com/b"),
	), nil)

	require.NoError(t, p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL}))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "chan-1", sent[0].TargetID)
	assert.Equal(t, kook.KMarkdownMessage, sent[0].Type)
	assert.Equal(t, "**New C**\n> http://example.com/c", sent[0].Content)

	// An identical second pull must not repeat anything.
	require.NoError(t, p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL}))
	assert.Len(t, sender.messages(), 1)
}

func TestRefreshFansOutToAllChannels(t *testing.T) {
	p, st, puller, sender := newTestPusher(t)

	v1 := parsedFeed(post("Seed", "http://example.com/seed"))
	subscribe(t, st, "chan-1", v1)
	subscribe(t, st, "chan-2", v1)

	puller.serve(parsedFeed(
		post("Fresh", "http://example.com/fresh"),
		post("Seed", "http://example.com/seed"),
	), nil)

	require.NoError(t, p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL}))

	targets := make(map[string]int)
	for _, msg := range sender.messages() {
		targets[msg.TargetID]++
	}
	assert.Equal(t, map[string]int{"chan-1": 1, "chan-2": 1}, targets)
}

func TestRefreshAppliesTitleFilterPerChannel(t *testing.T) {
	p, st, puller, sender := newTestPusher(t)

	v1 := parsedFeed(post("Seed", "http://example.com/seed"))
	subscribe(t, st, "filtered", v1)
	subscribe(t, st, "open", v1)
	require.NoError(t, st.SetRegex("filtered", testFeedURL, "(华为|蒂法)"))

	puller.serve(parsedFeed(
		post("华为发布新手机", "http://example.com/huawei"),
		post("Plain news", "http://example.com/plain"),
		post("Seed", "http://example.com/seed"),
	), nil)

	require.NoError(t, p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL}))

	byChannel := make(map[string][]string)
	for _, msg := range sender.messages() {
		byChannel[msg.TargetID] = append(byChannel[msg.TargetID], msg.Content)
	}
	assert.Equal(t, []string{"**Plain news**\n> http://example.com/plain"}, byChannel["filtered"])
	assert.Len(t, byChannel["open"], 2)
}

func TestRefreshSkipsPostsWithoutLink(t *testing.T) {
	p, st, puller, sender := newTestPusher(t)

	v1 := parsedFeed(post("Seed", "http://example.com/seed"))
	subscribe(t, st, "chan-1", v1)

	puller.serve(parsedFeed(
		post("No link here", ""),
		post("Seed", "http://example.com/seed"),
	), nil)

	require.NoError(t, p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL}))
	assert.Empty(t, sender.messages())
}

func TestRefreshReturnsPullError(t *testing.T) {
	p, st, puller, sender := newTestPusher(t)

	v1 := parsedFeed(post("Seed", "http://example.com/seed"))
	subscribe(t, st, "chan-1", v1)

	pullErr := errors.New("connection refused")
	puller.serve(nil, pullErr)

	err := p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL})
	require.Error(t, err)
	assert.ErrorIs(t, err, pullErr)
	assert.Empty(t, sender.messages())

	// The stored snapshot must survive the failed pull untouched.
	kept, err := st.GetFeed(testFeedURL)
	require.NoError(t, err)
	assert.Equal(t, store.NewSnapshot(testFeedURL, v1).PostsHash, kept.PostsHash)
}

func TestRefreshToleratesSendFailures(t *testing.T) {
	p, st, puller, sender := newTestPusher(t)

	v1 := parsedFeed(post("Seed", "http://example.com/seed"))
	subscribe(t, st, "chan-1", v1)

	sender.err = errors.New("rate limited")
	puller.serve(parsedFeed(
		post("Fresh", "http://example.com/fresh"),
		post("Seed", "http://example.com/seed"),
	), nil)

	// Delivery failure is logged, not propagated; the snapshot already
	// advanced so the post is not retried next cycle.
	require.NoError(t, p.Refresh(context.Background(), &store.Feed{SubscribeURL: testFeedURL}))
}

func TestPushPostWithoutLinkIsNoop(t *testing.T) {
	p, _, _, sender := newTestPusher(t)

	linkless := post("title only", "")
	require.NoError(t, p.PushPost(context.Background(), "chan-1", &linkless))
	assert.Empty(t, sender.messages())
}
