package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupStream(t *testing.T) (*RedisStream, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	p, err := NewRedisStream("redis://"+s.Addr(), "")
	if err != nil {
		t.Fatalf("failed to create redis publisher: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, s
}

func TestRedisStream_Publish(t *testing.T) {
	p, _ := setupStream(t)
	ctx := context.Background()

	ref, err := p.Publish(ctx, "g1", "d1", "hello world")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ref == "" {
		t.Fatalf("empty ref")
	}

	entries, err := p.Client().XRange(ctx, p.DraftStream("g1"), "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != ref {
		t.Fatalf("entries=%+v ref=%s", entries, ref)
	}
	if entries[0].Values["draft_id"] != "d1" || entries[0].Values["content"] != "hello world" {
		t.Fatalf("values=%+v", entries[0].Values)
	}

	ref2, err := p.Publish(ctx, "g1", "d2", "again")
	if err != nil || ref2 == ref {
		t.Fatalf("second publish ref=%s err=%v", ref2, err)
	}
}

func TestNewRedisStream_BadURL(t *testing.T) {
	if _, err := NewRedisStream("://nope", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLogPublisher(t *testing.T) {
	ref, err := Log{Logger: zerolog.Nop()}.Publish(context.Background(), "g", "d-1", "c")
	if err != nil || ref != "d-1" {
		t.Fatalf("ref=%s err=%v", ref, err)
	}
}

type recordingHandler struct {
	mu        sync.Mutex
	messages  []string
	reactions []string
	done      chan struct{}
	want      int
}

func (h *recordingHandler) HandleMessage(_ context.Context, groupID, senderID, text string, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, groupID+"/"+senderID+"/"+text)
	h.check()
	return nil
}

func (h *recordingHandler) HandleReaction(_ context.Context, groupID, ref, voterID, kind string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reactions = append(h.reactions, groupID+"/"+ref+"/"+voterID+"/"+kind)
	h.check()
	return nil
}

func (h *recordingHandler) check() {
	if len(h.messages)+len(h.reactions) == h.want {
		close(h.done)
	}
}

func TestInboundConsumer_Dispatch(t *testing.T) {
	p, _ := setupStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewInboundConsumer(p.Client(), p.Prefix(), zerolog.Nop())
	c.block = 50 * time.Millisecond

	add := func(vals map[string]any) {
		if err := p.Client().XAdd(ctx, &redis.XAddArgs{Stream: c.Stream(), Values: vals}).Err(); err != nil {
			t.Fatalf("xadd: %v", err)
		}
	}
	add(map[string]any{"type": "message", "group_id": "g1", "sender_id": "A", "text": "hi"})
	add(map[string]any{"type": "bogus", "group_id": "g1"})
	add(map[string]any{"type": "reaction", "group_id": "g1", "ref": "1-0", "voter_id": "B", "kind": "👍"})

	h := &recordingHandler{done: make(chan struct{}), want: 2}
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, "0", h) }()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for events")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) != 1 || h.messages[0] != "g1/A/hi" {
		t.Fatalf("messages=%v", h.messages)
	}
	if len(h.reactions) != 1 || h.reactions[0] != "g1/1-0/B/👍" {
		t.Fatalf("reactions=%v", h.reactions)
	}
}
