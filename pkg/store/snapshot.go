package store

import (
	"time"

	"github.com/kooklabs/ksbot/pkg/feed"
)

// NewSnapshot converts a freshly parsed feed into its durable snapshot.
// Fingerprint i covers post i, so diffing by index maps straight back to
// the parsed posts; at most PostsHashMax newest posts are covered.
// DownTime records this fetch as the last successful one.
func NewSnapshot(subscribeURL string, parsed *feed.Feed) *Feed {
	n := min(len(parsed.Posts), PostsHashMax)
	hashes := make([]string, n)
	for i := 0; i < n; i++ {
		hashes[i] = Hash(parsed.Posts[i].Link)
	}

	return &Feed{
		SubscribeURL: subscribeURL,
		Link:         parsed.Link,
		Title:        parsed.Title,
		TTL:          parsed.TTL,
		DownTime:     time.Now().Unix(),
		PostsHash:    hashes,
	}
}
