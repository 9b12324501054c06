package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(ch chan<- *domain.Message) domain.MessageHandler {
	return func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		sub, err := b.Subscribe(ctx, tenantID, domain.TopicLoginDecision, collect(got))
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, tenantID, domain.TopicLoginDecision, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", msg.Payload)
		}
		if msg.TenantID != tenantID || msg.Topic != domain.TopicLoginDecision {
			t.Errorf("unexpected envelope: %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected id and timestamp to be set")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		sub, _ := b.Subscribe(ctx, "tenant-a", domain.TopicLoginAlert, collect(got))
		defer sub.Unsubscribe()

		_ = b.Publish(ctx, "tenant-b", domain.TopicLoginAlert, []byte("wrong tenant"))
		_ = b.Publish(ctx, "tenant-a", domain.TopicLoginAlert, []byte("right tenant"))

		if msg := waitFor(t, got); string(msg.Payload) != "right tenant" {
			t.Errorf("received message for other tenant: %s", msg.Payload)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var calls atomic.Int32
		sub, _ := b.Subscribe(ctx, tenantID, "unsub.topic", func(context.Context, *domain.Message) error {
			calls.Add(1)
			return nil
		})
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		_ = b.Publish(ctx, tenantID, "unsub.topic", []byte("late"))
		time.Sleep(20 * time.Millisecond)
		if calls.Load() != 0 {
			t.Errorf("expected no deliveries after unsubscribe, got %d", calls.Load())
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got '%s'", sub.Topic())
		}
		// a second call is harmless
		_ = sub.Unsubscribe()
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		got := make(chan *domain.Message, 2)
		sub, _ := b.Subscribe(ctx, tenantID, "flaky.topic", func(_ context.Context, msg *domain.Message) error {
			got <- msg
			return errors.New("boom")
		})
		defer sub.Unsubscribe()

		_ = b.Publish(ctx, tenantID, "flaky.topic", []byte("1"))
		_ = b.Publish(ctx, tenantID, "flaky.topic", []byte("2"))
		waitFor(t, got)
		waitFor(t, got)
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := b.Publish(ctx, "", "x", nil); err == nil {
			t.Error("expected error for empty tenantID on publish")
		}
		if _, err := b.Subscribe(ctx, "", "x", collect(nil)); err == nil {
			t.Error("expected error for empty tenantID on subscribe")
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	sub, _ := b.Subscribe(ctx, "t", "slow.topic", func(context.Context, *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	// one message in the handler, one buffered, the rest dropped
	for range 10 {
		if err := b.Publish(ctx, "t", "slow.topic", nil); err != nil {
			t.Fatalf("publish must not block or fail: %v", err)
		}
	}
	close(release)
	time.Sleep(50 * time.Millisecond)
	_ = sub.Unsubscribe()

	if n := handled.Load(); n < 1 || n > 2 {
		t.Errorf("expected 1-2 handled messages, got %d", n)
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	_, _ = b.Subscribe(ctx, "tenant-001", "close.topic", func(context.Context, *domain.Message) error {
		return nil
	})

	if err := b.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-001", "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "tenant-001", "close.topic", collect(nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on subscribe, got %v", err)
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestPublishJSON(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	sub, _ := b.Subscribe(ctx, domain.GlobalTenant, domain.TopicFederatedUpdate, collect(got))
	defer sub.Unsubscribe()

	update := domain.WeightUpdate{ContributorID: "c1", Version: 1, Weights: []float64{0.1, 0.2}}
	if err := PublishJSON(ctx, b, domain.GlobalTenant, domain.TopicFederatedUpdate, update); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	var decoded domain.WeightUpdate
	if err := json.Unmarshal(waitFor(t, got).Payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.ContributorID != "c1" || len(decoded.Weights) != 2 {
		t.Errorf("unexpected payload: %+v", decoded)
	}

	if err := PublishJSON(ctx, b, "t", "x", func() {}); err == nil {
		t.Error("expected encode error for unsupported value")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("acme", domain.TopicLoginDecision); got != "heron.login.decision.acme" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	const messageCount = 100
	got := make(chan *domain.Message, messageCount)
	_, _ = b.Subscribe(ctx, "tenant-load", "load.topic", collect(got))

	for range messageCount {
		_ = b.Publish(ctx, "tenant-load", "load.topic", []byte("msg"))
	}
	for range messageCount {
		waitFor(t, got)
	}
}
