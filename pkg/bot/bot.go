// Package bot is the orchestrator. It runs the gateway session and the
// refresh scheduler concurrently and turns session notifications into
// user-visible behavior.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kooklabs/ksbot/pkg/gateway"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/metrics"
	"github.com/kooklabs/ksbot/pkg/store"
	"github.com/kooklabs/ksbot/pkg/version"
)

// Session is the gateway loop the orchestrator supervises.
type Session interface {
	Run(ctx context.Context) error
	State() gateway.State
	SN() uint64
}

// Scheduler is the refresh loop the orchestrator supervises.
type Scheduler interface {
	Run(ctx context.Context) error
	Stop()
	PendingCount() int
}

// Client is the slice of the platform API the orchestrator itself uses.
type Client interface {
	Me(ctx context.Context) (*kook.User, error)
	SendMessage(ctx context.Context, msg *kook.MessageCreate) error
}

// Interpreter handles one inbound chat message.
type Interpreter interface {
	Handle(ctx context.Context, msg *kook.EventMessage, botID string) error
}

// FeedLister counts stored feeds for the status report.
type FeedLister interface {
	ListFeeds() ([]*store.Feed, error)
}

// Status is the snapshot served by the status API. BotID stays empty
// until the identity fetch after the first Connected succeeds.
type Status struct {
	Name          string `json:"name"`
	BotID         string `json:"bot_id"`
	Version       string `json:"version"`
	SessionState  string `json:"session_state"`
	SN            uint64 `json:"sn"`
	Feeds         int    `json:"feeds"`
	PendingFeeds  int    `json:"pending_feeds"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Bot multiplexes the session machine and the scheduler. Whichever loop
// exits first tears the other down.
type Bot struct {
	name      string
	session   Session
	scheduler Scheduler
	bus       *gateway.Bus
	client    Client
	interp    Interpreter
	lister    FeedLister
	metrics   *metrics.Metrics
	logger    *slog.Logger

	started time.Time

	mu          sync.RWMutex
	self        *kook.User
	lastDropped uint64
}

// New wires the orchestrator. m may be nil to disable metrics.
func New(name string, session Session, scheduler Scheduler, bus *gateway.Bus, client Client, interp Interpreter, lister FeedLister, m *metrics.Metrics) *Bot {
	return &Bot{
		name:      name,
		session:   session,
		scheduler: scheduler,
		bus:       bus,
		client:    client,
		interp:    interp,
		lister:    lister,
		metrics:   m,
		logger:    slog.Default().With("component", "bot"),
		started:   time.Now(),
	}
}

// Run starts both loops and dispatches session notifications until ctx
// is canceled or either loop fails.
func (b *Bot) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := b.bus.Subscribe()

	errCh := make(chan error, 2)
	go func() { errCh <- b.session.Run(runCtx) }()
	go func() { errCh <- b.scheduler.Run(runCtx) }()
	defer b.scheduler.Stop()

	for {
		select {
		case err := <-errCh:
			cancel()
			<-errCh
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bot runtime: %w", err)
			}
			return ctx.Err()
		case n, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			b.dispatch(runCtx, n)
		}
	}
}

// Status reports the bot's runtime state.
func (b *Bot) Status() Status {
	feeds := 0
	if list, err := b.lister.ListFeeds(); err != nil {
		b.logger.Error("Failed to count feeds for status", "error", err)
	} else {
		feeds = len(list)
	}

	return Status{
		Name:          b.name,
		BotID:         b.selfID(),
		Version:       version.GitCommit,
		SessionState:  b.session.State().String(),
		SN:            b.session.SN(),
		Feeds:         feeds,
		PendingFeeds:  b.scheduler.PendingCount(),
		UptimeSeconds: int64(time.Since(b.started).Seconds()),
	}
}

func (b *Bot) dispatch(ctx context.Context, n gateway.Notification) {
	b.noteDrops()

	switch n.Kind {
	case gateway.NotifyConnected:
		b.ensureSelf(ctx)
	case gateway.NotifyEvent:
		b.metrics.EventDelivered()
		b.handleEvent(ctx, n.Message)
	case gateway.NotifyHeartbeat:
		// The session machine already reset its timers.
	}
}

// ensureSelf fetches and caches the bot's own identity. Commands cannot
// be recognized until this succeeds, so it retries on every Connected.
func (b *Bot) ensureSelf(ctx context.Context) {
	if b.selfID() != "" {
		return
	}

	user, err := b.client.Me(ctx)
	if err != nil {
		b.logger.Error("Failed to fetch own identity", "error", err)
		return
	}

	b.mu.Lock()
	b.self = user
	b.mu.Unlock()
	b.logger.Info("Bot identity cached", "id", user.ID, "username", user.Username)
}

func (b *Bot) selfID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.self == nil {
		return ""
	}
	return b.self.ID
}

func (b *Bot) handleEvent(ctx context.Context, msg *kook.EventMessage) {
	if msg == nil {
		return
	}

	botID := b.selfID()
	if botID == "" {
		b.logger.Warn("Dropping event, bot identity not known yet", "msg_id", msg.MsgID)
		return
	}

	if err := b.interp.Handle(ctx, msg, botID); err != nil {
		b.logger.Warn("Command failed", "msg_id", msg.MsgID, "error", err)
		b.replyError(ctx, msg, err)
	}
}

// replyError surfaces a command failure to the user as a one-line reply
// quoting the offending message.
func (b *Bot) replyError(ctx context.Context, msg *kook.EventMessage, cmdErr error) {
	err := b.client.SendMessage(ctx, &kook.MessageCreate{
		Type:     kook.KMarkdownMessage,
		TargetID: msg.TargetID,
		Content:  cmdErr.Error(),
		Quote:    msg.MsgID,
	})
	if err != nil {
		b.logger.Error("Failed to report command error", "msg_id", msg.MsgID, "error", err)
	}
}

// noteDrops surfaces notifications this subscriber lost by lagging.
func (b *Bot) noteDrops() {
	dropped := b.bus.Dropped()
	if dropped > b.lastDropped {
		b.metrics.BusDropped(int(dropped - b.lastDropped))
		b.logger.Warn("Session notifications lost, subscriber lagging",
			"lost", dropped-b.lastDropped)
		b.lastDropped = dropped
	}
}
