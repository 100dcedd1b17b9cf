package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"AgentPay-Guard/internal/directory"
	"AgentPay-Guard/internal/ledger"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Limits: Limits{
			MinSingleTxSats:     500,
			MaxSingleTxSats:     1000,
			DailySpendLimitSats: 5000,
		},
		AllowedRecipients: []directory.Recipient{
			{ID: "ritesh", Address: "0x150bcf49ee8e2bd9f59e991821de5b74c6d876aa"},
			{ID: "wallet", Address: "0xD3deF33f82a81C4303fE7aa85c5b9D52004161f2"},
		},
	}
}

func TestEvaluateAllows(t *testing.T) {
	if v := Evaluate(testSnapshot(), 0, "ritesh", 700); v != nil {
		t.Fatalf("expected approval, got violation: %s", v.Reason)
	}
}

func TestEvaluateBelowMinimum(t *testing.T) {
	v := Evaluate(testSnapshot(), 0, "ritesh", 499)
	if v == nil {
		t.Fatal("expected violation")
	}
	if !strings.Contains(v.Reason, "below minimum") {
		t.Fatalf("unexpected reason: %s", v.Reason)
	}
}

func TestEvaluateAboveMaximum(t *testing.T) {
	v := Evaluate(testSnapshot(), 0, "ritesh", 1001)
	if v == nil {
		t.Fatal("expected violation")
	}
	if !strings.Contains(v.Reason, "exceeds maximum") {
		t.Fatalf("unexpected reason: %s", v.Reason)
	}
}

func TestEvaluateUnknownRecipient(t *testing.T) {
	v := Evaluate(testSnapshot(), 0, "mallory", 700)
	if v == nil {
		t.Fatal("expected violation")
	}
	if !strings.Contains(v.Reason, "not in allowed recipients list") {
		t.Fatalf("unexpected reason: %s", v.Reason)
	}
	if !strings.Contains(v.Reason, "ritesh") || !strings.Contains(v.Reason, "wallet") {
		t.Fatalf("reason should list allowed ids: %s", v.Reason)
	}
}

func TestEvaluateDailyCapBoundary(t *testing.T) {
	// spent + amount == limit must still pass.
	if v := Evaluate(testSnapshot(), 4300, "ritesh", 700); v != nil {
		t.Fatalf("boundary spend should be allowed: %s", v.Reason)
	}
	v := Evaluate(testSnapshot(), 4301, "ritesh", 700)
	if v == nil {
		t.Fatal("expected daily cap violation")
	}
	if !strings.Contains(v.Reason, "Daily spend limit exceeded") {
		t.Fatalf("unexpected reason: %s", v.Reason)
	}
}

func TestEvaluateRuleOrdering(t *testing.T) {
	// 金额越界的拒绝优先于收款人与日限额检查。
	v := Evaluate(testSnapshot(), 5000, "mallory", 5)
	if v == nil {
		t.Fatal("expected violation")
	}
	if v.Rule != RuleMinAmount {
		t.Fatalf("minimum check should win: rule=%s reason=%s", v.Rule, v.Reason)
	}
}

type flakyProvider struct {
	recipients []directory.Recipient
	fail       bool
}

func (p *flakyProvider) ListRecipients(context.Context) ([]directory.Recipient, error) {
	if p.fail {
		return nil, errors.New("directory unavailable")
	}
	return append([]directory.Recipient(nil), p.recipients...), nil
}

func TestEvaluatorRefreshKeepsLastKnownSet(t *testing.T) {
	provider := &flakyProvider{recipients: []directory.Recipient{{ID: "ritesh", Address: "0x1"}}}
	eval := NewEvaluator(Limits{MinSingleTxSats: 1, MaxSingleTxSats: 1000, DailySpendLimitSats: 5000},
		provider, ledger.NewMemoryLedger())

	eval.Refresh(context.Background())
	if got := len(eval.Snapshot().AllowedRecipients); got != 1 {
		t.Fatalf("expected 1 recipient after refresh, got %d", got)
	}

	provider.fail = true
	eval.Refresh(context.Background())
	if got := len(eval.Snapshot().AllowedRecipients); got != 1 {
		t.Fatalf("failed refresh must keep last-known set, got %d recipients", got)
	}

	if _, ok := eval.ResolveRecipient("ritesh"); !ok {
		t.Fatal("recipient should still resolve after failed refresh")
	}
}

func TestEvaluatorCheckUsesLedger(t *testing.T) {
	book := ledger.NewMemoryLedger()
	provider := &flakyProvider{recipients: []directory.Recipient{{ID: "ritesh", Address: "0x1"}}}
	eval := NewEvaluator(Limits{MinSingleTxSats: 500, MaxSingleTxSats: 1000, DailySpendLimitSats: 5000},
		provider, book)
	eval.Refresh(context.Background())

	ctx := context.Background()
	if err := book.Add(ctx, "agent-1", ledger.Today(), 4500); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	v, err := eval.Check(ctx, "agent-1", "ritesh", 700)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v == nil || !strings.Contains(v.Reason, "Daily spend limit exceeded") {
		t.Fatalf("expected daily cap violation, got %v", v)
	}

	// 其他委托主体不受影响。
	v, err = eval.Check(ctx, "agent-2", "ritesh", 700)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v != nil {
		t.Fatalf("unexpected violation for fresh principal: %s", v.Reason)
	}
}
