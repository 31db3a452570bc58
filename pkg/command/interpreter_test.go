package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/push"
	"github.com/kooklabs/ksbot/pkg/store"
)

const (
	testBotID   = "BOT"
	testChannel = "chan-1"
	testFeedURL = "http://example.com/feed.xml"
)

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

type fakeSender struct {
	mu   sync.Mutex
	sent []*kook.MessageCreate
}

func (s *fakeSender) SendMessage(ctx context.Context, msg *kook.MessageCreate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) messages() []*kook.MessageCreate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kook.MessageCreate(nil), s.sent...)
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	urls []string
}

func (e *fakeEnqueuer) Enqueue(f *store.Feed) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.urls = append(e.urls, f.SubscribeURL)
	return true
}

func newTestInterpreter(t *testing.T) (*Interpreter, *store.Store, *fakePuller, *fakeSender, *fakeEnqueuer) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	puller := &fakePuller{next: &feed.Feed{Title: "Example"}}
	sender := &fakeSender{}
	enqueuer := &fakeEnqueuer{}
	pusher := push.NewPusher(puller, st, sender, nil)
	interp := NewInterpreter(st, puller, sender, pusher, enqueuer, 5*time.Second)
	return interp, st, puller, sender, enqueuer
}

func message(content string) *kook.EventMessage {
	return &kook.EventMessage{
		ChannelType:  kook.ChannelGroup,
		Type:         kook.KMarkdownMessage,
		TargetID:     testChannel,
		AuthorID:     "user-1",
		Content:      content,
		MsgID:        "msg-1",
		MsgTimestamp: time.Now().UnixMilli(),
	}
}

func TestHandleSubscribes(t *testing.T) {
	interp, st, puller, sender, enqueuer := newTestInterpreter(t)
	puller.next = &feed.Feed{
		Title: "Example",
		Posts: []feed.Post{{Title: "Latest", Link: "http://example.com/latest"}},
	}

	msg := message("(met)BOT(met) sub " + testFeedURL)
	require.NoError(t, interp.Handle(context.Background(), msg, testBotID))

	feeds, err := st.ChannelFeeds(testChannel)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, testFeedURL, feeds[0].SubscribeURL)

	sent := sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "已订阅: "+testFeedURL, sent[0].Content)
	assert.Equal(t, "msg-1", sent[0].Quote)
	assert.Equal(t, "**Latest**\n> http://example.com/latest", sent[1].Content)
	assert.Empty(t, sent[1].Quote)

	assert.Equal(t, []string{testFeedURL}, enqueuer.urls)
}

func TestHandleSubRejectsBadURL(t *testing.T) {
	interp, st, _, sender, _ := newTestInterpreter(t)

	err := interp.Handle(context.Background(), message("(met)BOT(met) sub not-a-url"), testBotID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "无效的订阅地址")

	feeds, err := st.ListFeeds()
	require.NoError(t, err)
	assert.Empty(t, feeds)
	assert.Empty(t, sender.messages())
}

func TestHandleSubReportsPullFailure(t *testing.T) {
	interp, st, puller, _, _ := newTestInterpreter(t)
	puller.err = assert.AnError

	err := interp.Handle(context.Background(), message("(met)BOT(met) sub "+testFeedURL), testBotID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "订阅错误")

	// A dead URL must never enter the store.
	feeds, err := st.ListFeeds()
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestHandleUnsubscribesAndCollectsFeed(t *testing.T) {
	interp, st, _, sender, _ := newTestInterpreter(t)
	require.NoError(t, st.Subscribe(testChannel, &store.Feed{SubscribeURL: testFeedURL, Title: "Example"}))

	msg := message("(met)BOT(met) unsub " + testFeedURL)
	require.NoError(t, interp.Handle(context.Background(), msg, testBotID))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "已退订: "+testFeedURL, sent[0].Content)
	assert.Equal(t, "msg-1", sent[0].Quote)

	// Last subscriber gone, the feed record goes with it.
	feeds, err := st.ListFeeds()
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestHandleListsSubscriptions(t *testing.T) {
	interp, st, _, sender, _ := newTestInterpreter(t)

	require.NoError(t, interp.Handle(context.Background(), message("(met)BOT(met) rss"), testBotID))
	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, emptyListReply, sent[0].Content)

	require.NoError(t, st.Subscribe(testChannel, &store.Feed{SubscribeURL: testFeedURL, Title: "Example"}))
	require.NoError(t, interp.Handle(context.Background(), message("(met)BOT(met) rss"), testBotID))
	sent = sender.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "- Example "+testFeedURL, sent[1].Content)
}

func TestHandleSetsTitleFilter(t *testing.T) {
	interp, st, _, sender, _ := newTestInterpreter(t)
	require.NoError(t, st.Subscribe(testChannel, &store.Feed{SubscribeURL: testFeedURL, Title: "Example"}))

	msg := message("(met)BOT(met) reg " + testFeedURL + " (华为|蒂法)")
	require.NoError(t, interp.Handle(context.Background(), msg, testBotID))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "已设置过滤: (华为|蒂法)", sent[0].Content)

	channels, err := st.FeedChannels(testFeedURL)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "(华为|蒂法)", channels[0].FeedRegex[store.Hash(testFeedURL)])
}

func TestHandleRejectsBadFilterPattern(t *testing.T) {
	interp, st, _, sender, _ := newTestInterpreter(t)
	require.NoError(t, st.Subscribe(testChannel, &store.Feed{SubscribeURL: testFeedURL, Title: "Example"}))

	msg := message("(met)BOT(met) reg " + testFeedURL + " (华为")
	err := interp.Handle(context.Background(), msg, testBotID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "正则编译失败")
	assert.Empty(t, sender.messages())

	channels, err := st.FeedChannels(testFeedURL)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Empty(t, channels[0].FeedRegex)
}

func TestHandleRepliesHelp(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bare mention", content: "(met)BOT(met)"},
		{name: "unknown verb", content: "(met)BOT(met) dance"},
		{name: "sub without url", content: "(met)BOT(met) sub"},
		{name: "reg without pattern", content: "(met)BOT(met) reg " + testFeedURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp, _, _, sender, _ := newTestInterpreter(t)
			require.NoError(t, interp.Handle(context.Background(), message(tt.content), testBotID))

			sent := sender.messages()
			require.Len(t, sent, 1)
			assert.Equal(t, helpText, sent[0].Content)
			assert.Equal(t, "msg-1", sent[0].Quote)
		})
	}
}

func TestHandleIgnoresNonCommands(t *testing.T) {
	interp, _, _, sender, _ := newTestInterpreter(t)

	for _, content := range []string{
		"hello there",
		"(met)SOMEONE_ELSE(met) sub " + testFeedURL,
		"sub " + testFeedURL,
	} {
		require.NoError(t, interp.Handle(context.Background(), message(content), testBotID))
	}
	assert.Empty(t, sender.messages())
}

func TestHandleDropsFilteredMessages(t *testing.T) {
	content := "(met)BOT(met) rss"

	stale := message(content)
	stale.MsgTimestamp = time.Now().Add(-time.Minute).UnixMilli()

	fromBot := message(content)
	fromBot.Extra.Author.Bot = true

	direct := message(content)
	direct.ChannelType = kook.ChannelPerson

	tests := []struct {
		name string
		msg  *kook.EventMessage
	}{
		{name: "stale replay", msg: stale},
		{name: "from another bot", msg: fromBot},
		{name: "direct message", msg: direct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp, _, _, sender, _ := newTestInterpreter(t)
			require.NoError(t, interp.Handle(context.Background(), tt.msg, testBotID))
			assert.Empty(t, sender.messages())
		})
	}
}
