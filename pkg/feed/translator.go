package feed

import (
	"fmt"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
)

const ttlCustomKey = "ttl"

// ttlTranslator wraps the default RSS translator to carry the channel's
// <ttl> element through to the universal feed, which drops it otherwise.
type ttlTranslator struct {
	defaultTranslator *gofeed.DefaultRSSTranslator
}

func newTTLTranslator() *ttlTranslator {
	return &ttlTranslator{defaultTranslator: &gofeed.DefaultRSSTranslator{}}
}

func (t *ttlTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	rssFeed, ok := feed.(*rss.Feed)
	if !ok {
		return nil, fmt.Errorf("translate: expected rss feed, got %T", feed)
	}

	f, err := t.defaultTranslator.Translate(rssFeed)
	if err != nil {
		return nil, err
	}
	if rssFeed.TTL != "" {
		if f.Custom == nil {
			f.Custom = map[string]string{}
		}
		f.Custom[ttlCustomKey] = rssFeed.TTL
	}
	return f, nil
}
