package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotFingerprints(t *testing.T) {
	parsed := &feed.Feed{
		Title: "Example Feed",
		Link:  "https://a.example",
		TTL:   30,
		Posts: []feed.Post{
			{Title: "one", Link: "https://a.example/1"},
			{Title: "two", Link: "https://a.example/2"},
		},
	}

	before := time.Now().Unix()
	snap := NewSnapshot("https://a.example/rss", parsed)

	assert.Equal(t, "https://a.example/rss", snap.SubscribeURL)
	assert.Equal(t, "Example Feed", snap.Title)
	assert.Equal(t, 30, snap.TTL)
	assert.Equal(t, []string{Hash("https://a.example/1"), Hash("https://a.example/2")}, snap.PostsHash)
	assert.GreaterOrEqual(t, snap.DownTime, before)
	assert.Empty(t, snap.ChannelIDs)
}

func TestNewSnapshotCapsWindow(t *testing.T) {
	parsed := &feed.Feed{Title: "big"}
	for i := 0; i < PostsHashMax+4; i++ {
		parsed.Posts = append(parsed.Posts, feed.Post{Link: fmt.Sprintf("https://a.example/%d", i)})
	}

	snap := NewSnapshot("https://a.example/rss", parsed)
	require.Len(t, snap.PostsHash, PostsHashMax)
	assert.Equal(t, Hash("https://a.example/0"), snap.PostsHash[0])
}

func TestNewSnapshotKeepsIndexAlignment(t *testing.T) {
	parsed := &feed.Feed{
		Posts: []feed.Post{
			{Title: "has link", Link: "https://a.example/1"},
			{Title: "no link"},
			{Title: "also linked", Link: "https://a.example/3"},
		},
	}

	snap := NewSnapshot("https://a.example/rss", parsed)

	// Fingerprint i must cover post i even when a post has no link.
	require.Len(t, snap.PostsHash, 3)
	assert.Equal(t, Hash("https://a.example/1"), snap.PostsHash[0])
	assert.Equal(t, Hash(""), snap.PostsHash[1])
	assert.Equal(t, Hash("https://a.example/3"), snap.PostsHash[2])
}
