package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := make([]Event, 0, 2)
	done := make(chan struct{})

	go func() {
		_ = queue.Consume(ctx, 2, func(_ context.Context, e Event) error {
			mu.Lock()
			received = append(received, e)
			if len(received) == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	events := []Event{
		{Type: TypeIntentCreated, IntentID: "intent-1", PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700},
		{Type: TypeIntentExecuted, IntentID: "intent-1", PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700, TxID: "0xabc"},
	}
	for _, e := range events {
		if err := queue.Publish(ctx, e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, e := range received {
		if e.IntentID != "intent-1" || e.OccurredAt == 0 {
			t.Fatalf("unexpected event: %+v", e)
		}
	}
}

func TestMemoryQueueCloseDuringPublish(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()

	seed := Event{Type: TypeIntentCreated, IntentID: "intent-1", PrincipalID: "agent-1"}
	if err := queue.Publish(ctx, seed); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// 缓冲已满，下一次投递会阻塞，关闭队列必须让它安全返回。
	result := make(chan error, 1)
	go func() {
		result <- queue.Publish(ctx, seed)
	}()

	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("blocked publish must fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked publish did not return after close")
	}

	if err := queue.Publish(ctx, seed); err == nil {
		t.Fatal("publish after close must fail")
	}
	// 重复关闭是幂等的。
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	original := Event{
		Type:        TypeIntentRejected,
		IntentID:    "intent-2",
		PrincipalID: "agent-1",
		RecipientID: "wallet",
		AmountSats:  900,
		Reason:      "signer unavailable",
		OccurredAt:  1700000000,
	}
	payload, err := original.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}

	if _, err := Decode([]byte("{broken")); err == nil {
		t.Fatal("expected decode error")
	}
}
