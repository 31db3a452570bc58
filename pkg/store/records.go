package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	badger "github.com/dgraph-io/badger/v4"
)

// Subscribe links channelID to the feed, creating the feed record from f
// on first subscription. Both sides use set semantics, so repeating a
// subscription changes nothing.
func (s *Store) Subscribe(channelID string, f *Feed) error {
	hash := Hash(f.SubscribeURL)
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getFeed(txn, hash)
		switch {
		case errors.Is(err, ErrNotFound):
			fresh := *f
			fresh.ChannelIDs = appendUnique(slices.Clone(f.ChannelIDs), channelID)
			if err := putFeed(txn, &fresh); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			existing.ChannelIDs = appendUnique(existing.ChannelIDs, channelID)
			if err := putFeed(txn, existing); err != nil {
				return err
			}
		}

		ch, err := getChannel(txn, channelID)
		if errors.Is(err, ErrNotFound) {
			ch = &Channel{ID: channelID}
		} else if err != nil {
			return err
		}
		ch.FeedHash = appendUnique(ch.FeedHash, hash)
		return putChannel(txn, ch)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", channelID, f.SubscribeURL, err)
	}
	return nil
}

// Unsubscribe unlinks channelID from the feed on both sides and drops the
// channel's title filter for it. Missing records are ignored.
func (s *Store) Unsubscribe(channelID, subscribeURL string) error {
	hash := Hash(subscribeURL)
	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFeed(txn, hash)
		if err == nil {
			f.ChannelIDs = removeString(f.ChannelIDs, channelID)
			if err := putFeed(txn, f); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		ch, err := getChannel(txn, channelID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ch.FeedHash = removeString(ch.FeedHash, hash)
		delete(ch.FeedRegex, hash)
		return putChannel(txn, ch)
	})
	if err != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", channelID, subscribeURL, err)
	}
	return nil
}

// TryRemoveFeed deletes the feed record if no channel subscribes to it
// anymore. It reports whether the record was removed.
func (s *Store) TryRemoveFeed(subscribeURL string) (bool, error) {
	hash := Hash(subscribeURL)
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		f, err := getFeed(txn, hash)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(f.ChannelIDs) > 0 {
			return nil
		}
		if err := txn.Delete(feedKey(hash)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove feed %s: %w", subscribeURL, err)
	}
	return removed, nil
}

// UpdateOrCreateFeed replaces the feed snapshot wholesale, preserving the
// stored subscriber set. It returns the prior snapshot for diffing, nil
// when the feed is new.
func (s *Store) UpdateOrCreateFeed(f *Feed) (*Feed, error) {
	hash := Hash(f.SubscribeURL)
	var prior *Feed
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getFeed(txn, hash)
		switch {
		case errors.Is(err, ErrNotFound):
			next := *f
			return putFeed(txn, &next)
		case err != nil:
			return err
		default:
			prior = existing
			next := *f
			next.ChannelIDs = existing.ChannelIDs
			return putFeed(txn, &next)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("update feed %s: %w", f.SubscribeURL, err)
	}
	return prior, nil
}

// GetFeed returns the snapshot stored for subscribeURL.
func (s *Store) GetFeed(subscribeURL string) (*Feed, error) {
	hash := Hash(subscribeURL)
	var f *Feed
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		f, err = getFeed(txn, hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get feed %s: %w", subscribeURL, err)
	}
	return f, nil
}

// ListFeeds returns every stored feed snapshot.
func (s *Store) ListFeeds() ([]*Feed, error) {
	var feeds []*Feed
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(feedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f Feed
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			})
			if err != nil {
				return fmt.Errorf("decode feed %s: %w", it.Item().Key(), err)
			}
			feeds = append(feeds, &f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// ChannelFeeds returns the snapshots of every feed channelID subscribes
// to. An unknown channel yields an empty list.
func (s *Store) ChannelFeeds(channelID string) ([]*Feed, error) {
	var feeds []*Feed
	err := s.db.View(func(txn *badger.Txn) error {
		ch, err := getChannel(txn, channelID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, hash := range ch.FeedHash {
			f, err := getFeed(txn, hash)
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("Channel references missing feed", "channel_id", channelID, "feed_hash", hash)
				continue
			}
			if err != nil {
				return err
			}
			feeds = append(feeds, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list feeds of channel %s: %w", channelID, err)
	}
	return feeds, nil
}

// FeedChannels returns the channel records subscribed to subscribeURL.
func (s *Store) FeedChannels(subscribeURL string) ([]*Channel, error) {
	hash := Hash(subscribeURL)
	var channels []*Channel
	err := s.db.View(func(txn *badger.Txn) error {
		f, err := getFeed(txn, hash)
		if err != nil {
			return err
		}
		for _, id := range f.ChannelIDs {
			ch, err := getChannel(txn, id)
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("Feed references missing channel", "subscribe_url", subscribeURL, "channel_id", id)
				continue
			}
			if err != nil {
				return err
			}
			channels = append(channels, ch)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list channels of feed %s: %w", subscribeURL, err)
	}
	return channels, nil
}

// SetRegex stores the title filter pattern channelID applies to the feed.
// An empty pattern removes the filter. The caller validates that the
// pattern compiles.
func (s *Store) SetRegex(channelID, subscribeURL, pattern string) error {
	hash := Hash(subscribeURL)
	err := s.db.Update(func(txn *badger.Txn) error {
		ch, err := getChannel(txn, channelID)
		if errors.Is(err, ErrNotFound) {
			ch = &Channel{ID: channelID}
		} else if err != nil {
			return err
		}

		if pattern == "" {
			delete(ch.FeedRegex, hash)
		} else {
			if ch.FeedRegex == nil {
				ch.FeedRegex = map[string]string{}
			}
			ch.FeedRegex[hash] = pattern
		}
		return putChannel(txn, ch)
	})
	if err != nil {
		return fmt.Errorf("set regex for %s on %s: %w", channelID, subscribeURL, err)
	}
	return nil
}

func getFeed(txn *badger.Txn, hash string) (*Feed, error) {
	item, err := txn.Get(feedKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var f Feed
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &f)
	})
	if err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", hash, err)
	}
	return &f, nil
}

func putFeed(txn *badger.Txn, f *Feed) error {
	val, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode feed %s: %w", f.SubscribeURL, err)
	}
	return txn.Set(feedKey(Hash(f.SubscribeURL)), val)
}

func getChannel(txn *badger.Txn, id string) (*Channel, error) {
	item, err := txn.Get(channelKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ch Channel
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ch)
	})
	if err != nil {
		return nil, fmt.Errorf("decode channel %s: %w", id, err)
	}
	return &ch, nil
}

func putChannel(txn *badger.Txn, ch *Channel) error {
	val, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encode channel %s: %w", ch.ID, err)
	}
	return txn.Set(channelKey(ch.ID), val)
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == v })
}
