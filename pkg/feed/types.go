// Package feed downloads and parses RSS and Atom documents.
package feed

import (
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure so callers can decide between
// retrying, backing off, or flagging the feed as broken.
type ErrorKind int

const (
	// KindNetwork covers transport failures, timeouts, and non-200 statuses.
	KindNetwork ErrorKind = iota
	// KindTooLarge means the document exceeded the configured size limit.
	KindTooLarge
	// KindParse means the document downloaded fine but is not a valid feed.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTooLarge:
		return "too_large"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// FetchError reports a failed feed fetch along with its classification.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Post is a single entry of a parsed feed. RSS items and Atom entries
// both land here; fields the document omits stay zero.
type Post struct {
	Title       string
	Link        string
	GUID        string
	Description string
	Author      string
	Categories  []string
	PubDate     *time.Time
}

// Feed is a parsed snapshot of a remote feed document. TTL is the
// publisher's suggested refresh interval in minutes, zero when the
// document does not declare one.
type Feed struct {
	Title string
	Link  string
	TTL   int
	Posts []Post
}
