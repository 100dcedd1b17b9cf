package agent

import (
	"context"
	"testing"

	"AgentPay-Guard/internal/custody"
	"AgentPay-Guard/internal/directory"
	"AgentPay-Guard/internal/intent"
	"AgentPay-Guard/internal/ledger"
	"AgentPay-Guard/internal/llm"
	"AgentPay-Guard/internal/policy"
)

type scriptedLLM struct {
	response *llm.Response
	lastReq  llm.Request
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.lastReq = req
	return s.response, nil
}

func newTestEngine() *intent.Engine {
	book := ledger.NewMemoryLedger()
	provider := directory.NewStaticProvider([]directory.Recipient{
		{ID: "ritesh", Address: "0x150bcf49ee8e2bd9f59e991821de5b74c6d876aa"},
	})
	evaluator := policy.NewEvaluator(policy.Limits{
		MinSingleTxSats:     500,
		MaxSingleTxSats:     1000,
		DailySpendLimitSats: 5000,
	}, provider, book)
	evaluator.Refresh(context.Background())
	return intent.NewEngine(intent.NewMemoryStore(), evaluator, book, custody.NewMockSigner())
}

func TestChatWithoutProposal(t *testing.T) {
	client := &scriptedLLM{response: &llm.Response{Reply: "你的额度还剩 5000 聪"}}
	advisor := New(client, newTestEngine())

	result, err := advisor.Chat(context.Background(), ChatRequest{PrincipalID: "agent-1", Message: "额度还剩多少"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Intent != nil || result.Denial != "" {
		t.Fatalf("plain reply should not create intents: %+v", result)
	}
	if client.lastReq.Policy.DailySpendLimitSats != 5000 {
		t.Fatalf("policy summary not passed to model: %+v", client.lastReq.Policy)
	}
	if len(client.lastReq.Contacts) != 1 {
		t.Fatalf("contacts not passed to model: %+v", client.lastReq.Contacts)
	}
}

func TestChatCreatesIntent(t *testing.T) {
	client := &scriptedLLM{response: &llm.Response{
		Reply:    "已创建待批准的付款",
		Proposal: &llm.PaymentProposal{RecipientID: "ritesh", AmountSats: 700, Note: "coffee"},
	}}
	engine := newTestEngine()
	advisor := New(client, engine)

	result, err := advisor.Chat(context.Background(), ChatRequest{PrincipalID: "agent-1", Message: "给 ritesh 转 700 聪"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Intent == nil || result.Intent.Status != intent.StatusPending {
		t.Fatalf("expected pending intent, got %+v", result.Intent)
	}

	pending, _ := engine.ListPending(context.Background(), "agent-1")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending intent, got %d", len(pending))
	}
}

func TestChatPolicyDenialKeepsConversation(t *testing.T) {
	client := &scriptedLLM{response: &llm.Response{
		Reply:    "尝试创建付款",
		Proposal: &llm.PaymentProposal{RecipientID: "ritesh", AmountSats: 5},
	}}
	engine := newTestEngine()
	advisor := New(client, engine)

	result, err := advisor.Chat(context.Background(), ChatRequest{PrincipalID: "agent-1", Message: "给 ritesh 转 5 聪"})
	if err != nil {
		t.Fatalf("denial should not be an error: %v", err)
	}
	if result.Intent != nil {
		t.Fatalf("denied proposal must not create intents: %+v", result.Intent)
	}
	if result.Denial == "" {
		t.Fatal("denial reason missing")
	}

	pending, _ := engine.ListPending(context.Background(), "agent-1")
	if len(pending) != 0 {
		t.Fatalf("denied proposal left entities behind: %+v", pending)
	}
}

func TestChatValidation(t *testing.T) {
	advisor := New(&scriptedLLM{response: &llm.Response{Reply: "ok"}}, newTestEngine())

	if _, err := advisor.Chat(context.Background(), ChatRequest{PrincipalID: "agent-1"}); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := advisor.Chat(context.Background(), ChatRequest{Message: "hi"}); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
