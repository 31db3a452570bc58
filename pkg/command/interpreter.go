// Package command turns @-mentions of the bot into subscription
// mutations. A message is a command only when its trimmed content
// starts with the bot's own mention token; everything after the mention
// is a verb plus arguments.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kooklabs/ksbot/pkg/feed"
	"github.com/kooklabs/ksbot/pkg/kook"
	"github.com/kooklabs/ksbot/pkg/store"
)

const (
	verbList  = "rss"
	verbSub   = "sub"
	verbUnsub = "unsub"
	verbRegex = "reg"
)

const emptyListReply = "当前没有任何订阅, 是因为太年轻犯下的错么。"

const helpText = `rss - 显示当前频道订阅的 RSS 列表
sub <url> - 订阅一个 RSS: sub http://example.com/feed.xml
unsub <url> - 退订一个 RSS: unsub http://example.com/feed.xml
reg <url> <正则> - 给订阅设置标题过滤: reg http://example.com/feed.xml (华为|蒂法)`

// Puller downloads and parses a feed, used to validate a subscription
// before it is persisted.
type Puller interface {
	Pull(ctx context.Context, url string) (*feed.Feed, error)
}

// Sender posts chat replies. *kook.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, msg *kook.MessageCreate) error
}

// PostPusher delivers a single post, used for the greeting push right
// after a subscription is created.
type PostPusher interface {
	PushPost(ctx context.Context, channelID string, post *feed.Post) error
}

// Enqueuer makes the scheduler aware of a new subscription immediately
// instead of waiting for the next enumeration sweep.
type Enqueuer interface {
	Enqueue(f *store.Feed) bool
}

// Interpreter parses and executes mention commands. Errors returned
// from Handle are user facing; the orchestrator replies with the error
// text, quoting the offending message.
type Interpreter struct {
	store       *store.Store
	puller      Puller
	sender      Sender
	pusher      PostPusher
	sched       Enqueuer
	staleCutoff time.Duration
	logger      *slog.Logger
}

// NewInterpreter wires the command surface. sched may be nil when no
// scheduler is running, for example in one-shot tools.
func NewInterpreter(st *store.Store, puller Puller, sender Sender, pusher PostPusher, sched Enqueuer, staleCutoff time.Duration) *Interpreter {
	return &Interpreter{
		store:       st,
		puller:      puller,
		sender:      sender,
		pusher:      pusher,
		sched:       sched,
		staleCutoff: staleCutoff,
		logger:      slog.Default().With("component", "command"),
	}
}

// Handle interprets one inbound event message addressed to botID.
// Non-commands and filtered messages are ignored without error.
func (i *Interpreter) Handle(ctx context.Context, msg *kook.EventMessage, botID string) error {
	if i.drop(msg) {
		return nil
	}

	verb, args, ok := parseCommand(msg.Content, botID)
	if !ok {
		return nil
	}
	i.logger.Info("Command received",
		"channel_id", msg.TargetID, "author_id", msg.AuthorID, "verb", verb)

	switch verb {
	case verbList:
		return i.commandList(ctx, msg)
	case verbSub:
		if len(args) != 1 {
			return i.reply(ctx, msg, helpText)
		}
		return i.commandSub(ctx, msg, args[0])
	case verbUnsub:
		if len(args) != 1 {
			return i.reply(ctx, msg, helpText)
		}
		return i.commandUnsub(ctx, msg, args[0])
	case verbRegex:
		if len(args) != 2 {
			return i.reply(ctx, msg, helpText)
		}
		return i.commandRegex(ctx, msg, args[0], args[1])
	default:
		// Bare mention or anything unrecognized gets the usage text.
		return i.reply(ctx, msg, helpText)
	}
}

// drop filters messages that must never reach dispatch: other bots,
// direct messages, and stale replays delivered after a resume.
func (i *Interpreter) drop(msg *kook.EventMessage) bool {
	if msg.Extra.Author.Bot {
		i.logger.Debug("Ignoring bot message", "author_id", msg.AuthorID)
		return true
	}
	if msg.ChannelType == kook.ChannelPerson {
		i.logger.Debug("Ignoring direct message", "author_id", msg.AuthorID)
		return true
	}
	if age := time.Since(time.UnixMilli(msg.MsgTimestamp)); age > i.staleCutoff {
		i.logger.Debug("Ignoring stale message", "age", age, "msg_id", msg.MsgID)
		return true
	}
	return false
}

// parseCommand splits content into a verb and its arguments. ok is
// false when the message does not start with the bot's mention.
func parseCommand(content, botID string) (verb string, args []string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(content), "(met)"+botID+"(met)")
	if !found {
		return "", nil, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, true
	}
	return fields[0], fields[1:], true
}

func (i *Interpreter) commandList(ctx context.Context, msg *kook.EventMessage) error {
	feeds, err := i.store.ChannelFeeds(msg.TargetID)
	if err != nil {
		return fmt.Errorf("数据库错误: %w", err)
	}
	if len(feeds) == 0 {
		return i.reply(ctx, msg, emptyListReply)
	}

	lines := make([]string, 0, len(feeds))
	for _, f := range feeds {
		lines = append(lines, fmt.Sprintf("- %s %s", f.Title, f.SubscribeURL))
	}
	return i.reply(ctx, msg, strings.Join(lines, "\n"))
}

func (i *Interpreter) commandSub(ctx context.Context, msg *kook.EventMessage, arg string) error {
	url, ok := FindHTTPURL(arg)
	if !ok {
		return fmt.Errorf("无效的订阅地址: %s", arg)
	}

	// Pull before persisting so a dead URL never enters the store.
	parsed, err := i.puller.Pull(ctx, url)
	if err != nil {
		return fmt.Errorf("订阅错误: %w", err)
	}

	snapshot := store.NewSnapshot(url, parsed)
	if err := i.store.Subscribe(msg.TargetID, snapshot); err != nil {
		return fmt.Errorf("数据库错误: %w", err)
	}
	if i.sched != nil {
		i.sched.Enqueue(snapshot)
	}
	i.logger.Info("Channel subscribed", "channel_id", msg.TargetID, "subscribe_url", url)

	if err := i.reply(ctx, msg, "已订阅: "+url); err != nil {
		return err
	}

	// Greet the channel with the newest post so the subscription is
	// visibly alive before the first scheduled refresh.
	if len(parsed.Posts) > 0 {
		if err := i.pusher.PushPost(ctx, msg.TargetID, &parsed.Posts[0]); err != nil {
			i.logger.Warn("Failed to push newest post",
				"channel_id", msg.TargetID, "subscribe_url", url, "error", err)
		}
	}
	return nil
}

func (i *Interpreter) commandUnsub(ctx context.Context, msg *kook.EventMessage, arg string) error {
	url, ok := FindHTTPURL(arg)
	if !ok {
		return fmt.Errorf("无效的订阅地址: %s", arg)
	}

	if err := i.store.Unsubscribe(msg.TargetID, url); err != nil {
		return fmt.Errorf("数据库错误: %w", err)
	}
	removed, err := i.store.TryRemoveFeed(url)
	if err != nil {
		return fmt.Errorf("数据库错误: %w", err)
	}
	if removed {
		i.logger.Info("Feed removed, no subscribers left", "subscribe_url", url)
	}
	i.logger.Info("Channel unsubscribed", "channel_id", msg.TargetID, "subscribe_url", url)

	return i.reply(ctx, msg, "已退订: "+url)
}

func (i *Interpreter) commandRegex(ctx context.Context, msg *kook.EventMessage, arg, pattern string) error {
	url, ok := FindHTTPURL(arg)
	if !ok {
		return fmt.Errorf("无效的订阅地址: %s", arg)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("正则编译失败: %w", err)
	}

	if err := i.store.SetRegex(msg.TargetID, url, pattern); err != nil {
		return fmt.Errorf("数据库错误: %w", err)
	}
	i.logger.Info("Title filter set",
		"channel_id", msg.TargetID, "subscribe_url", url, "pattern", pattern)

	return i.reply(ctx, msg, "已设置过滤: "+pattern)
}

// reply quotes the triggering message in its channel.
func (i *Interpreter) reply(ctx context.Context, msg *kook.EventMessage, content string) error {
	err := i.sender.SendMessage(ctx, &kook.MessageCreate{
		Type:     kook.KMarkdownMessage,
		TargetID: msg.TargetID,
		Content:  content,
		Quote:    msg.MsgID,
	})
	if err != nil {
		return fmt.Errorf("reply to %s: %w", msg.TargetID, err)
	}
	return nil
}
