package intent

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"
	"testing"

	"AgentPay-Guard/internal/custody"
	"AgentPay-Guard/internal/directory"
	xerrors "AgentPay-Guard/internal/errors"
	"AgentPay-Guard/internal/ledger"
	"AgentPay-Guard/internal/policy"
)

// mutableDirectory 允许测试在提案与批准之间改变名录。
type mutableDirectory struct {
	mu         sync.Mutex
	recipients []directory.Recipient
}

func (d *mutableDirectory) ListRecipients(context.Context) ([]directory.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]directory.Recipient(nil), d.recipients...), nil
}

func (d *mutableDirectory) set(recipients ...directory.Recipient) {
	d.mu.Lock()
	d.recipients = recipients
	d.mu.Unlock()
}

type engineFixture struct {
	engine   *Engine
	store    *MemoryStore
	book     *ledger.MemoryLedger
	signer   *custody.MockSigner
	provider *mutableDirectory
}

func newEngineFixture(t *testing.T, limits policy.Limits) *engineFixture {
	t.Helper()

	store := NewMemoryStore()
	book := ledger.NewMemoryLedger()
	signer := custody.NewMockSigner()
	provider := &mutableDirectory{recipients: []directory.Recipient{
		{ID: "ritesh", Address: "0x150bcf49ee8e2bd9f59e991821de5b74c6d876aa"},
		{ID: "wallet", Address: "0xD3deF33f82a81C4303fE7aa85c5b9D52004161f2"},
	}}
	evaluator := policy.NewEvaluator(limits, provider, book)
	evaluator.Refresh(context.Background())

	return &engineFixture{
		engine:   NewEngine(store, evaluator, book, signer),
		store:    store,
		book:     book,
		signer:   signer,
		provider: provider,
	}
}

func defaultLimits() policy.Limits {
	return policy.Limits{MinSingleTxSats: 500, MaxSingleTxSats: 1000, DailySpendLimitSats: 5000}
}

func TestProposeCreatesPendingIntent(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{
		PrincipalID: "agent-1",
		RecipientID: "ritesh",
		AmountSats:  700,
		Note:        "coffee fund",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if in.Status != StatusPending || in.ID == "" {
		t.Fatalf("unexpected intent: %+v", in)
	}

	pending, _ := fix.engine.ListPending(ctx, "agent-1")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending intent, got %d", len(pending))
	}
}

func TestProposeDenialCreatesNothing(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	_, err := fix.engine.Propose(ctx, ProposeRequest{
		PrincipalID: "agent-1",
		RecipientID: "ritesh",
		AmountSats:  1500,
	})
	if xerrors.CodeOf(err) != CodePolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds maximum single transaction limit of 1000 sats") {
		t.Fatalf("unexpected denial reason: %v", err)
	}

	// 被拒绝的提案不得留下任何实体。
	pending, _ := fix.engine.ListPending(ctx, "agent-1")
	if len(pending) != 0 {
		t.Fatalf("denied proposal must not create intents: %+v", pending)
	}
}

func TestConfirmExecutesAndCommitsLedger(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	executed, err := fix.engine.Confirm(ctx, "agent-1", in.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if executed.Status != StatusExecuted || executed.TxID == "" {
		t.Fatalf("unexpected executed intent: %+v", executed)
	}

	spent, remaining, err := fix.engine.DailySpend(ctx, "agent-1")
	if err != nil {
		t.Fatalf("daily spend: %v", err)
	}
	if spent != 700 || remaining != 4300 {
		t.Fatalf("expected spent=700 remaining=4300, got %d/%d", spent, remaining)
	}

	payments := fix.signer.Payments()
	if len(payments) != 1 || payments[0].Recipient != "0x150bcf49ee8e2bd9f59e991821de5b74c6d876aa" {
		t.Fatalf("unexpected signer payments: %+v", payments)
	}

	// 已终结的意图不允许再次批准。
	if _, err := fix.engine.Confirm(ctx, "agent-1", in.ID); !stdErrors.Is(err, ErrIntentFinalized) {
		t.Fatalf("expected ErrIntentFinalized, got %v", err)
	}
}

func TestConfirmDoesNotReevaluatePolicy(t *testing.T) {
	limits := defaultLimits()
	limits.DailySpendLimitSats = 1000
	fix := newEngineFixture(t, limits)
	ctx := context.Background()

	first, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose first: %v", err)
	}
	second, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose second: %v", err)
	}

	if _, err := fix.engine.Confirm(ctx, "agent-1", first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}

	// 策略只在提案时刻把关；第一笔执行后批准第二笔依然直达签名。
	executed, err := fix.engine.Confirm(ctx, "agent-1", second.ID)
	if err != nil {
		t.Fatalf("confirm second: %v", err)
	}
	if executed.Status != StatusExecuted || executed.TxID == "" {
		t.Fatalf("second intent should execute: %+v", executed)
	}
	if got := len(fix.signer.Payments()); got != 2 {
		t.Fatalf("expected 2 signer invocations, got %d", got)
	}

	spent, _, _ := fix.engine.DailySpend(ctx, "agent-1")
	if spent != 1400 {
		t.Fatalf("both executions must charge the ledger, spent=%d", spent)
	}
}

func TestConfirmInvalidRecipientAfterDirectoryChange(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	// 名录在创建与批准之间被清空，地址解析失败是硬失败。
	fix.provider.set()

	rejected, err := fix.engine.Confirm(ctx, "agent-1", in.ID)
	if xerrors.CodeOf(err) != CodeInvalidRecipient {
		t.Fatalf("expected INVALID_RECIPIENT, got %v", err)
	}
	if rejected == nil || rejected.Status != StatusRejected {
		t.Fatalf("unresolvable recipient must reject the intent: %+v", rejected)
	}
	if !strings.Contains(rejected.FailureReason, "ritesh") {
		t.Fatalf("unexpected rejection reason: %s", rejected.FailureReason)
	}
	if got := len(fix.signer.Payments()); got != 0 {
		t.Fatalf("signer must not be invoked, got %d payments", got)
	}

	spent, _, _ := fix.engine.DailySpend(ctx, "agent-1")
	if spent != 0 {
		t.Fatalf("rejected intent must not charge the ledger, spent=%d", spent)
	}
}

func TestConfirmRequiresPrincipal(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	if _, err := fix.engine.Confirm(ctx, "", in.ID); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for empty principal, got %v", err)
	}
	if got := len(fix.signer.Payments()); got != 0 {
		t.Fatalf("signer must not be invoked, got %d payments", got)
	}

	// 意图保持待批准，真正的归属方仍可正常批准。
	pending, _ := fix.engine.ListPending(ctx, "agent-1")
	if len(pending) != 1 {
		t.Fatalf("intent must stay pending, got %d", len(pending))
	}
	if _, err := fix.engine.Confirm(ctx, "agent-1", in.ID); err != nil {
		t.Fatalf("owner confirm: %v", err)
	}
}

func TestConfirmExecutionFailureRejects(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	fix.signer.FailWith = stdErrors.New("signer unavailable")
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	rejected, err := fix.engine.Confirm(ctx, "agent-1", in.ID)
	if xerrors.CodeOf(err) != CodeExecutionFailure {
		t.Fatalf("expected EXECUTION_FAILURE, got %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("failed execution must reject the intent: %+v", rejected)
	}

	spent, _, _ := fix.engine.DailySpend(ctx, "agent-1")
	if spent != 0 {
		t.Fatalf("failed execution must not charge the ledger, spent=%d", spent)
	}
}

func TestConcurrentConfirmsSignOnce(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "ritesh", AmountSats: 700})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	const confirmers = 16
	var wg sync.WaitGroup
	errs := make([]error, confirmers)
	for i := 0; i < confirmers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = fix.engine.Confirm(ctx, "agent-1", in.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case stdErrors.Is(err, ErrIntentFinalized):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if got := len(fix.signer.Payments()); got != 1 {
		t.Fatalf("signer must be invoked exactly once, got %d", got)
	}

	spent, _, _ := fix.engine.DailySpend(ctx, "agent-1")
	if spent != 700 {
		t.Fatalf("ledger must be charged exactly once, spent=%d", spent)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	fix := newEngineFixture(t, defaultLimits())
	ctx := context.Background()

	in, err := fix.engine.Propose(ctx, ProposeRequest{PrincipalID: "agent-1", RecipientID: "wallet", AmountSats: 500})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	if _, err := fix.engine.Get(ctx, "agent-2", in.ID); !stdErrors.Is(err, ErrIntentForbidden) {
		t.Fatalf("expected ErrIntentForbidden, got %v", err)
	}
	if _, err := fix.engine.Get(ctx, "", in.ID); !stdErrors.Is(err, ErrIntentForbidden) {
		t.Fatalf("expected ErrIntentForbidden for empty principal, got %v", err)
	}
	if _, err := fix.engine.Get(ctx, "agent-1", in.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
}
