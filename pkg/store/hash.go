package store

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash fingerprints a string as a decimal-rendered 64-bit xxhash. Feed
// keys hash the subscribe URL and post fingerprints hash the post link;
// values are persisted, so the function must stay stable across releases.
func Hash(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 10)
}

func feedKey(hash string) []byte {
	return append([]byte(feedPrefix), hash...)
}

func channelKey(id string) []byte {
	return append([]byte(channelPrefix), id...)
}

const (
	feedPrefix    = "feed::"
	channelPrefix = "channel::"
)
