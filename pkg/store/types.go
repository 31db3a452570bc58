// Package store persists feed snapshots and channel subscriptions in an
// embedded badger database.
package store

import "errors"

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// PostsHashMax bounds how many post fingerprints a feed snapshot keeps,
// newest first.
const PostsHashMax = 16

// Feed is the durable snapshot of one subscribed feed. SubscribeURL is
// the identity; PostsHash holds fingerprints of the newest posts from the
// latest successful fetch; ChannelIDs is the set of subscribed channels.
type Feed struct {
	SubscribeURL string   `json:"subscribe_url"`
	Link         string   `json:"link"`
	Title        string   `json:"title"`
	TTL          int      `json:"ttl"`
	DownTime     int64    `json:"down_time"`
	PostsHash    []string `json:"posts_hash"`
	ChannelIDs   []string `json:"channel_ids"`
}

// Channel is the durable record of one chat channel. FeedHash is the set
// of subscribed feed hashes; FeedRegex maps a feed hash to the title
// filter pattern registered for it, no entry meaning no filter.
type Channel struct {
	ID        string            `json:"id"`
	FeedHash  []string          `json:"feed_hash"`
	FeedRegex map[string]string `json:"feed_regex"`
}
