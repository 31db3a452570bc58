package push

import (
	"slices"

	"github.com/kooklabs/ksbot/pkg/store"
)

// newPostIndices returns the indices of posts in next whose fingerprint
// is absent from the prior snapshot, preserving feed order. A feed seen
// for the first time contributes only its newest post, which mirrors the
// greeting push on subscription and keeps a fresh subscription from
// flooding the channel with history.
func newPostIndices(next, prior *store.Feed) []int {
	if prior == nil {
		if len(next.PostsHash) == 0 {
			return nil
		}
		return []int{0}
	}

	var fresh []int
	for i, h := range next.PostsHash {
		if !slices.Contains(prior.PostsHash, h) {
			fresh = append(fresh, i)
		}
	}
	return fresh
}
