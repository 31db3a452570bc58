// Package e2e runs the assembled bot against an in-process fake of the
// KOOK platform: the REST API and the websocket gateway, plus an RSS
// origin the bot can subscribe to.
package e2e

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kooklabs/ksbot/pkg/bot"
	"github.com/kooklabs/ksbot/pkg/command"
	"github.com/kooklabs/ksbot/pkg/config"
	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/kooklabs/ksbot/pkg/gateway"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/push"
	"github.com/kooklabs/ksbot/pkg/scheduler"
	"github.com/kooklabs/ksbot/pkg/store"
)

// BotID is the identity the fake platform reports for the bot itself.
const BotID = "BOT"

// SentMessage is one captured message create call.
type SentMessage struct {
	Type     int    `json:"type"`
	TargetID string `json:"target_id"`
	Content  string `json:"content"`
	Quote    string `json:"quote"`
}

// Platform fakes the KOOK REST API and gateway websocket endpoint.
type Platform struct {
	server *httptest.Server

	mu       sync.Mutex
	messages []SentMessage
	notify   chan SentMessage
	conns    chan *GatewayConn
}

// NewPlatform starts the fake platform. It is torn down with the test.
func NewPlatform(t *testing.T) *Platform {
	t.Helper()

	p := &Platform{
		notify: make(chan SentMessage, 64),
		conns:  make(chan *GatewayConn, 4),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway/index", p.handleGateway)
	mux.HandleFunc("/message/create", p.handleMessageCreate)
	mux.HandleFunc("/user/me", p.handleMe)
	mux.HandleFunc("/ws", p.handleWS)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// APIBase is the REST base URL clients should target.
func (p *Platform) APIBase() string {
	return p.server.URL
}

// Messages returns every message create call captured so far.
func (p *Platform) Messages() []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentMessage(nil), p.messages...)
}

// WaitMessage returns the next message the bot sends, failing the test
// after timeout.
func (p *Platform) WaitMessage(t *testing.T, timeout time.Duration) SentMessage {
	t.Helper()
	select {
	case m := <-p.notify:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a message create call")
		return SentMessage{}
	}
}

// WaitConn returns the next accepted gateway connection.
func (p *Platform) WaitConn(t *testing.T, timeout time.Duration) *GatewayConn {
	t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a gateway connection")
		return nil
	}
}

func (p *Platform) handleGateway(w http.ResponseWriter, r *http.Request) {
	wsURL := "ws" + strings.TrimPrefix(p.server.URL, "http") + "/ws?compress=1"
	writeEnvelope(w, map[string]string{"url": wsURL})
}

func (p *Platform) handleMessageCreate(w http.ResponseWriter, r *http.Request) {
	var msg SentMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	select {
	case p.notify <- msg:
	default:
	}

	writeEnvelope(w, map[string]any{})
}

func (p *Platform) handleMe(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, map[string]any{"id": BotID, "username": "ksbot", "bot": true})
}

func (p *Platform) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	gc := &GatewayConn{conn: c, Resumed: strings.Contains(r.URL.RawQuery, "resume=1")}
	select {
	case p.conns <- gc:
	default:
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    0,
		"message": "",
		"data":    data,
	})
}

// GatewayConn is the server side of one accepted gateway websocket.
type GatewayConn struct {
	conn *websocket.Conn

	// Resumed reports whether the client dialed with a resume query.
	Resumed bool
}

// SendHello completes the session handshake.
func (g *GatewayConn) SendHello(t *testing.T, sessionID string) {
	g.sendText(t, map[string]any{
		"s": 1,
		"d": map[string]any{"code": 0, "session_id": sessionID},
	})
}

// SendEvent delivers a numbered event frame as plain JSON text.
func (g *GatewayConn) SendEvent(t *testing.T, sn uint64, msg *kook.EventMessage) {
	g.sendText(t, map[string]any{"s": 0, "sn": sn, "d": msg})
}

// SendEventCompressed delivers a numbered event frame as zlib binary,
// the format the production gateway uses.
func (g *GatewayConn) SendEventCompressed(t *testing.T, sn uint64, msg *kook.EventMessage) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{"s": 0, "sn": sn, "d": msg})
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	g.write(t, websocket.MessageBinary, buf.Bytes())
}

// SendReconnect asks the client to discard its session and reconnect.
func (g *GatewayConn) SendReconnect(t *testing.T) {
	g.sendText(t, map[string]any{"s": 5, "d": map[string]any{"code": 0}})
}

func (g *GatewayConn) sendText(t *testing.T, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	g.write(t, websocket.MessageText, payload)
}

func (g *GatewayConn) write(t *testing.T, typ websocket.MessageType, payload []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.conn.Write(ctx, typ, payload))
}

// RSSItem is one post of a fake feed document.
type RSSItem struct {
	Title string
	Link  string
}

// FeedServer serves a mutable RSS document over HTTP.
type FeedServer struct {
	server *httptest.Server

	mu  sync.Mutex
	doc string
}

// NewFeedServer starts an RSS origin with an empty feed.
func NewFeedServer(t *testing.T) *FeedServer {
	t.Helper()

	f := &FeedServer{}
	f.SetItems("Example Feed")
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		doc := f.doc
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

// URL is the subscribe URL of the fake feed.
func (f *FeedServer) URL() string {
	return f.server.URL + "/feed.xml"
}

// SetItems replaces the served document, newest item first.
func (f *FeedServer) SetItems(title string, items ...RSSItem) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<rss version="2.0"><channel>`)
	fmt.Fprintf(&b, "<title>%s</title><link>http://example.com</link>", title)
	for _, item := range items {
		fmt.Fprintf(&b, "<item><title>%s</title><link>%s</link></item>", item.Title, item.Link)
	}
	b.WriteString(`</channel></rss>`)

	f.mu.Lock()
	f.doc = b.String()
	f.mu.Unlock()
}

// TestBot is a complete bot instance wired against the fakes.
type TestBot struct {
	Bot   *bot.Bot
	Store *store.Store
}

// StartBot assembles and runs the full stack: client, session, fetcher,
// pusher, scheduler, interpreter, orchestrator. Shutdown happens with
// the test.
func StartBot(t *testing.T, p *Platform) *TestBot {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Token = "test-token"
	cfg.Refresh.MinInterval = 100 * time.Millisecond
	cfg.Refresh.EnumerateInterval = 200 * time.Millisecond
	cfg.Refresh.ThrottleUnit = time.Millisecond

	st, err := store.Open(filepath.Join(dir, "__bot.db"))
	require.NoError(t, err)

	record, initial, err := gateway.OpenRecordFile(filepath.Join(dir, "__bot.json"))
	require.NoError(t, err)

	client := kook.NewClientWithBaseURL(cfg.Token, p.APIBase())
	bus := gateway.NewBus()
	session := gateway.NewSession(client, record, initial, bus, nil)

	fetcher := feed.NewFetcher(cfg.Refresh.FeedSizeLimit)
	pusher := push.NewPusher(fetcher, st, client, nil)
	sched := scheduler.New(st, pusher, &cfg.Refresh, nil)
	interp := command.NewInterpreter(st, fetcher, client, pusher, sched, cfg.Refresh.StaleCutoff)
	b := bot.New("ksbot", session, sched, bus, client, interp, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("bot did not shut down")
		}
		_ = record.Close()
		_ = st.Close()
	})

	return &TestBot{Bot: b, Store: st}
}

// WaitReady blocks until the bot has cached its own identity, which is
// the point from which commands are recognized.
func (tb *TestBot) WaitReady(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return tb.Bot.Status().BotID == BotID },
		5*time.Second, 10*time.Millisecond)
}
