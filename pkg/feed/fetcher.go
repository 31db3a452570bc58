package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	fetchTimeout     = 16 * time.Second
	maxRedirects     = 5
	userAgent        = "Mozilla/5.0"
	defaultSizeLimit = 4 << 20
)

// Fetcher downloads feed documents and parses them into Feed snapshots.
type Fetcher struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	sizeLimit  int64
	logger     *slog.Logger
}

// NewFetcher creates a fetcher that rejects documents larger than
// sizeLimit bytes. A non-positive limit selects the 4 MiB default.
func NewFetcher(sizeLimit int64) *Fetcher {
	if sizeLimit <= 0 {
		sizeLimit = defaultSizeLimit
	}

	parser := gofeed.NewParser()
	parser.RSSTranslator = newTTLTranslator()

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		parser:    parser,
		sizeLimit: sizeLimit,
		logger:    slog.Default().With("component", "fetcher"),
	}
}

// Pull downloads and parses the feed at url. Failures come back as a
// *FetchError classifying the stage that failed.
func (f *Fetcher) Pull(ctx context.Context, url string) (*Feed, error) {
	// 1. Download, refusing documents over the size limit.
	body, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}

	// 2. Parse; the universal parser detects RSS, Atom, and JSON feeds.
	parsed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Kind: KindParse, URL: url, Err: err}
	}

	return convert(parsed), nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Kind: KindNetwork,
			URL:  url,
			Err:  fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	if resp.ContentLength > f.sizeLimit {
		return nil, &FetchError{
			Kind: KindTooLarge,
			URL:  url,
			Err:  fmt.Errorf("advertised %d bytes, limit %d", resp.ContentLength, f.sizeLimit),
		}
	}

	// Servers may lie about Content-Length, so cap the stream as well.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.sizeLimit+1))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	if int64(len(body)) > f.sizeLimit {
		return nil, &FetchError{
			Kind: KindTooLarge,
			URL:  url,
			Err:  fmt.Errorf("body exceeds %d bytes", f.sizeLimit),
		}
	}
	return body, nil
}

func convert(parsed *gofeed.Feed) *Feed {
	out := &Feed{
		Title: parsed.Title,
		Link:  parsed.Link,
		TTL:   parseTTL(parsed.Custom[ttlCustomKey]),
		Posts: make([]Post, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		post := Post{
			Title:       item.Title,
			Link:        item.Link,
			GUID:        item.GUID,
			Description: item.Description,
			Categories:  item.Categories,
			PubDate:     item.PublishedParsed,
		}
		if len(item.Authors) > 0 {
			post.Author = item.Authors[0].Name
		}
		out.Posts = append(out.Posts, post)
	}
	return out
}

func parseTTL(raw string) int {
	if raw == "" {
		return 0
	}
	ttl, err := strconv.Atoi(raw)
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
