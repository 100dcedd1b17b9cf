package ledger

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLedgerSpentDefaultsToZero(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	spent, err := l.Spent(ctx, "alice", Today())
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent != 0 {
		t.Fatalf("expected zero spend for fresh key, got %d", spent)
	}
}

func TestMemoryLedgerAddAccumulatesPerKey(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	day := Today()

	if err := l.Add(ctx, "alice", day, 700); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Add(ctx, "alice", day, 300); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Add(ctx, "bob", day, 100); err != nil {
		t.Fatalf("add: %v", err)
	}

	spent, err := l.Spent(ctx, "alice", day)
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent != 1000 {
		t.Fatalf("expected 1000, got %d", spent)
	}

	other, err := l.Spent(ctx, "bob", day)
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if other != 100 {
		t.Fatalf("expected 100 for bob, got %d", other)
	}
}

func TestMemoryLedgerSeparatesDays(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	yesterday := DayOf(time.Now().UTC().AddDate(0, 0, -1))
	today := Today()

	if err := l.Add(ctx, "alice", yesterday, 500); err != nil {
		t.Fatalf("add: %v", err)
	}
	spent, err := l.Spent(ctx, "alice", today)
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent != 0 {
		t.Fatalf("yesterday's spend leaked into today: %d", spent)
	}
}

func TestMemoryLedgerConcurrentAdds(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	day := Today()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Add(ctx, "alice", day, 10)
		}()
	}
	wg.Wait()

	spent, err := l.Spent(ctx, "alice", day)
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent != workers*10 {
		t.Fatalf("lost updates: expected %d, got %d", workers*10, spent)
	}
}

func TestDayString(t *testing.T) {
	day := DayOf(time.Date(2026, time.March, 7, 23, 59, 0, 0, time.UTC))
	if day.String() != "2026-03-07" {
		t.Fatalf("unexpected day format: %s", day)
	}
}

func TestDayOfUsesUTCBoundary(t *testing.T) {
	// 东八区的凌晨仍属于 UTC 的前一天。
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2026, time.March, 8, 6, 0, 0, 0, loc)
	day := DayOf(local)
	if day.Date != 7 {
		t.Fatalf("expected UTC day 7, got %d", day.Date)
	}
}
