package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeTokens struct {
	tokens []string
	err    error
}

func (f fakeTokens) ClassroomTokens(context.Context, string) ([]string, error) {
	return f.tokens, f.err
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, m Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, m)
	return d.err
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *goredis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return goredis.NewIntResult(1, f.err)
}

func TestNotifyClass(t *testing.T) {
	d := &recordingDispatcher{}
	n := New(fakeTokens{tokens: []string{"tok-a", "tok-b"}}, d, time.Second)

	n.NotifyClass("c1", "New quiz", "Newton", "/quizzes")
	n.Wait()

	if len(d.msgs) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(d.msgs))
	}
	m := d.msgs[0]
	if m.Route != "/class/c1/quizzes" || m.Title != "New quiz" || len(m.Tokens) != 2 {
		t.Errorf("message = %+v", m)
	}
}

func TestNotifyClassSkipsEmptyAndErrors(t *testing.T) {
	tests := []struct {
		name   string
		tokens fakeTokens
	}{
		{"no tokens", fakeTokens{}},
		{"token lookup fails", fakeTokens{err: errors.New("db closed")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			n := New(tt.tokens, d, time.Second)
			n.NotifyClass("c1", "t", "b", "")
			n.Wait()
			if len(d.msgs) != 0 {
				t.Errorf("dispatched %d messages, want 0", len(d.msgs))
			}
		})
	}
}

func TestNotifyClassDispatchErrorIsLogged(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("gateway down")}
	n := New(fakeTokens{tokens: []string{"t"}}, d, time.Second)
	n.NotifyClass("c1", "t", "b", "/announcements")
	n.Wait()
	if len(d.msgs) != 1 {
		t.Errorf("dispatch attempts = %d, want 1", len(d.msgs))
	}
}

func TestRedisDispatch(t *testing.T) {
	pub := &fakePublisher{}
	d := &RedisDispatcher{rdb: pub, channel: "lyceum:push"}

	msg := Message{Title: "Meeting", Body: "Starts soon", Route: Route("c9", "/meetings"), Tokens: []string{"x"}}
	if err := d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if pub.channel != "lyceum:push" {
		t.Errorf("channel = %q", pub.channel)
	}
	var got map[string]any
	if err := json.Unmarshal(pub.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	for _, key := range []string{"title", "body", "route", "tokens"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if got["route"] != "/class/c9/meetings" {
		t.Errorf("route = %v", got["route"])
	}

	pub.err = errors.New("connection refused")
	if err := d.Dispatch(context.Background(), msg); err == nil {
		t.Error("expected publish error")
	}
}

func TestNewRedisRequiresAddr(t *testing.T) {
	if _, err := NewRedis(context.Background(), "", "", ""); err == nil {
		t.Error("expected error for empty address")
	}
}
