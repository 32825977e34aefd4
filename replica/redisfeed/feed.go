// Package redisfeed publishes store notifications to Redis pub/sub so
// mirrors in other processes can follow a store.
//
// Each store publishes on its own channel, Prefix + store ID. Messages
// carry a per-store sequence number; a follower that sees a gap marks its
// mirror invalid and needs a fresh bootstrap.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/replica"
	"github.com/xraph/stockpile/store"
)

// DefaultPrefix is the channel prefix used when none is configured.
const DefaultPrefix = "stockpile:store:"

// Client is the part of a Redis client the feed uses. *goredis.Client and
// goredis.UniversalClient satisfy it.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Channel returns the channel a store publishes on.
func Channel(prefix string, storeID id.StoreID) string {
	return prefix + storeID.String()
}

type config struct {
	prefix  string
	buffer  int
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Feed.
type Option func(*config)

// WithPrefix sets the channel prefix.
func WithPrefix(prefix string) Option { return func(c *config) { c.prefix = prefix } }

// WithBuffer sets how many messages may wait for publishing.
func WithBuffer(n int) Option { return func(c *config) { c.buffer = n } }

// WithPublishTimeout bounds a single publish call.
func WithPublishTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func buildConfig(opts []Option) config {
	c := config{
		prefix:  DefaultPrefix,
		buffer:  1024,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type outgoing struct {
	channel string
	msg     message
}

// Feed is a store.Listener that publishes every notification it receives.
// Notify never blocks: messages are queued and published by a background
// goroutine. A full queue drops the message; the sequence gap tells
// followers to resynchronize.
type Feed struct {
	client Client
	cfg    config

	mu      sync.Mutex
	seq     map[string]uint64
	queue   chan outgoing
	done    chan struct{}
	running bool

	dropped atomic.Int64
}

var _ store.Listener = (*Feed)(nil)

// NewFeed creates a stopped feed.
func NewFeed(client Client, opts ...Option) *Feed {
	cfg := buildConfig(opts)
	return &Feed{
		client: client,
		cfg:    cfg,
		seq:    make(map[string]uint64),
		queue:  make(chan outgoing, cfg.buffer),
	}
}

// Start launches the publishing goroutine. It stops when ctx is done or
// Stop is called.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.done = make(chan struct{})
	go f.run(ctx, f.queue, f.done)
}

// Stop drains the queue and waits for the publishing goroutine.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	queue, done := f.queue, f.done
	f.queue = make(chan outgoing, f.cfg.buffer)
	f.mu.Unlock()

	close(queue)
	<-done
}

// Dropped returns the number of messages dropped on a full queue.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

// Notify queues e for publishing.
func (f *Feed) Notify(e store.Event) {
	f.enqueue(fromEvent(e))
}

// Disconnect queues a disconnect message for s.
func (f *Feed) Disconnect(s store.Store, _, isValid bool) {
	msg := message{Kind: kindDisconnect, Handle: -1, Valid: isValid}
	if s != nil {
		msg.StoreID = s.ID().String()
	}
	f.enqueue(msg)
}

func (f *Feed) enqueue(msg message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq[msg.StoreID]++
	msg.Seq = f.seq[msg.StoreID]
	out := outgoing{channel: f.cfg.prefix + msg.StoreID, msg: msg}

	select {
	case f.queue <- out:
	default:
		if f.dropped.Add(1) == 1 {
			f.cfg.logger.Warn("store feed queue full, dropping events",
				"store_id", msg.StoreID,
				"buffer", f.cfg.buffer,
			)
		}
	}
}

func (f *Feed) run(ctx context.Context, queue <-chan outgoing, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-queue:
			if !ok {
				return
			}
			f.publish(ctx, out)
		}
	}
}

func (f *Feed) publish(ctx context.Context, out outgoing) {
	raw, err := json.Marshal(out.msg)
	if err != nil {
		f.cfg.logger.Error("store feed: encode event", "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, f.cfg.timeout)
	defer cancel()
	if err := f.client.Publish(pctx, out.channel, raw).Err(); err != nil {
		f.cfg.logger.Warn("store feed: publish failed",
			"channel", out.channel,
			"seq", out.msg.Seq,
			"error", err,
		)
	}
}

// ──────────────────────────────────────────────────
// Following
// ──────────────────────────────────────────────────

// Follow subscribes to the channel of storeID and applies its messages to
// m until ctx is done. It returns once the subscription is confirmed.
//
// A follower only sees events published after it subscribed, so m must be
// bootstrapped separately (for example from a state blob) or the store must
// be re-listened with initial state after Follow returns.
func Follow(ctx context.Context, client Client, storeID id.StoreID, m *replica.Mirror, opts ...Option) error {
	cfg := buildConfig(opts)
	channel := Channel(cfg.prefix, storeID)

	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redisfeed: subscribe %s: %w", channel, err)
	}

	go func() {
		defer sub.Close() //nolint:errcheck // best-effort on shutdown
		f := follower{mirror: m, logger: cfg.logger.With("channel", channel)}
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok || msg == nil {
					return
				}
				f.apply([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

type follower struct {
	mirror *replica.Mirror
	logger *slog.Logger
	last   uint64
}

func (f *follower) apply(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Warn("bad store feed payload", "error", err)
		return
	}
	if f.last != 0 && msg.Seq != f.last+1 {
		f.logger.Warn("store feed gap, mirror invalidated",
			"expected_seq", f.last+1,
			"seq", msg.Seq,
		)
		f.mirror.Invalidate()
	}
	f.last = msg.Seq

	if msg.Kind == kindDisconnect {
		f.mirror.Disconnect(nil, false, msg.Valid)
		return
	}
	e, ok := msg.event()
	if !ok {
		f.logger.Warn("unknown store feed event", "kind", msg.Kind)
		return
	}
	f.mirror.Notify(e)
}
