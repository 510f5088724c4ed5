// Package notify fans classroom events out to the push gateway.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "lyceum:push"

// Message is one push notification addressed to device tokens.
type Message struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Route  string   `json:"route"`
	Tokens []string `json:"tokens"`
}

// Dispatcher delivers a message to the push gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Message) error
}

// TokenSource resolves the push tokens of a classroom's students.
type TokenSource interface {
	ClassroomTokens(ctx context.Context, classroomID string) ([]string, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// RedisDispatcher publishes messages as JSON on a Redis channel.
type RedisDispatcher struct {
	rdb     publisher
	closer  func() error
	channel string
}

// NewRedis connects to addr and verifies the server answers.
func NewRedis(ctx context.Context, addr, password, channel string) (*RedisDispatcher, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("push dispatch via redis", "addr", addr, "channel", channel)
	return &RedisDispatcher{rdb: rdb, closer: rdb.Close, channel: channel}, nil
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}
	if err := d.rdb.Publish(ctx, d.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (d *RedisDispatcher) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// LogDispatcher only logs messages. It is used when no gateway is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, m Message) error {
	slog.Info("push notification (not dispatched)", "title", m.Title, "route", m.Route, "tokens", len(m.Tokens))
	return nil
}

// Notifier resolves recipients and dispatches in the background.
type Notifier struct {
	tokens     TokenSource
	dispatcher Dispatcher
	timeout    time.Duration
	wg         sync.WaitGroup
}

func New(tokens TokenSource, d Dispatcher, timeout time.Duration) *Notifier {
	if d == nil {
		d = LogDispatcher{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{tokens: tokens, dispatcher: d, timeout: timeout}
}

// NotifyClass sends a notification to every enrolled student of a classroom
// without blocking the caller. subRoute is appended to /class/<id>.
// Failures are logged.
func (n *Notifier) NotifyClass(classroomID, title, body, subRoute string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.notifyClass(ctx, classroomID, title, body, subRoute); err != nil {
			slog.Error("class notification failed", "classroom_id", classroomID, "error", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) notifyClass(ctx context.Context, classroomID, title, body, subRoute string) error {
	tokens, err := n.tokens.ClassroomTokens(ctx, classroomID)
	if err != nil {
		return fmt.Errorf("resolve tokens: %w", err)
	}
	if len(tokens) == 0 {
		slog.Debug("no push tokens for class", "classroom_id", classroomID)
		return nil
	}
	return n.dispatcher.Dispatch(ctx, Message{
		Title:  title,
		Body:   body,
		Route:  Route(classroomID, subRoute),
		Tokens: tokens,
	})
}

// Route builds the in-app route for a classroom screen.
func Route(classroomID, subRoute string) string {
	return "/class/" + classroomID + subRoute
}
