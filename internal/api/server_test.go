package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentPay-Guard/internal/agent"
	"AgentPay-Guard/internal/custody"
	"AgentPay-Guard/internal/directory"
	"AgentPay-Guard/internal/intent"
	"AgentPay-Guard/internal/ledger"
	"AgentPay-Guard/internal/llm"
	"AgentPay-Guard/internal/policy"
)

type scriptedModel struct {
	response *llm.Response
}

func (m *scriptedModel) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	return m.response, nil
}

func newTestServer(t *testing.T, model llm.Client) *Server {
	t.Helper()

	store := intent.NewMemoryStore()
	book := ledger.NewMemoryLedger()
	signer := custody.NewMockSigner()
	provider := directory.NewStaticProvider([]directory.Recipient{
		{ID: "ritesh", Address: "0x150bcf49ee8e2bd9f59e991821de5b74c6d876aa"},
	})
	limits := policy.Limits{MinSingleTxSats: 500, MaxSingleTxSats: 1000, DailySpendLimitSats: 5000}
	evaluator := policy.NewEvaluator(limits, provider, book)
	evaluator.Refresh(context.Background())

	engine := intent.NewEngine(store, evaluator, book, signer)
	var advisor *agent.Advisor
	if model != nil {
		advisor = agent.New(model, engine)
	}
	return NewServer(":0", engine, advisor, nil)
}

func proposeIntent(t *testing.T, server *Server, principal string, amount int64) *intent.PaymentIntent {
	t.Helper()

	body := `{"recipient_id":"ritesh","amount_sats":` + jsonInt(amount) + `,"note":"coffee"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", strings.NewReader(body))
	req.Header.Set("X-Principal-ID", principal)
	rec := httptest.NewRecorder()

	server.handleIntents(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose: got status %d body %s", rec.Code, rec.Body.String())
	}
	var created intent.PaymentIntent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	return &created
}

func jsonInt(value int64) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func TestProposeAndApproveFlow(t *testing.T) {
	server := newTestServer(t, nil)
	created := proposeIntent(t, server, "agent-1", 700)
	if created.Status != intent.StatusPending {
		t.Fatalf("unexpected status: %s", created.Status)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents/"+created.ID+"/approve", nil)
	req.Header.Set("X-Principal-ID", "agent-1")
	rec := httptest.NewRecorder()
	server.handleIntentSubtree(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: got status %d body %s", rec.Code, rec.Body.String())
	}
	var executed intent.PaymentIntent
	if err := json.Unmarshal(rec.Body.Bytes(), &executed); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if executed.Status != intent.StatusExecuted || executed.TxID == "" {
		t.Fatalf("unexpected executed intent: %+v", executed)
	}

	t.Run("re-approve conflicts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/intents/"+created.ID+"/approve", nil)
		req.Header.Set("X-Principal-ID", "agent-1")
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected status %d, got %d", http.StatusConflict, rec.Code)
		}
	})

	t.Run("spend reflects execution", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/spend", nil)
		req.Header.Set("X-Principal-ID", "agent-1")
		rec := httptest.NewRecorder()
		server.handleSpend(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("spend: got status %d", rec.Code)
		}
		var got map[string]int64
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode spend: %v", err)
		}
		if got["spent_today_sats"] != 700 || got["remaining_sats"] != 4300 {
			t.Fatalf("unexpected spend payload: %v", got)
		}
	})

	t.Run("detail", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/intents/"+created.ID, nil)
		req.Header.Set("X-Principal-ID", "agent-1")
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("detail: got status %d", rec.Code)
		}
	})
}

func TestProposeDenialReturnsUnprocessable(t *testing.T) {
	server := newTestServer(t, nil)

	body := `{"recipient_id":"ritesh","amount_sats":5000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", strings.NewReader(body))
	req.Header.Set("X-Principal-ID", "agent-1")
	rec := httptest.NewRecorder()
	server.handleIntents(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}
	var payload map[string]errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"].Code != "POLICY_VIOLATION" {
		t.Fatalf("unexpected error code: %q", payload["error"].Code)
	}

	pendingReq := httptest.NewRequest(http.MethodGet, "/api/v1/intents/pending", nil)
	pendingReq.Header.Set("X-Principal-ID", "agent-1")
	pendingRec := httptest.NewRecorder()
	server.handleIntentSubtree(pendingRec, pendingReq)
	if pendingRec.Code != http.StatusOK {
		t.Fatalf("pending: got status %d", pendingRec.Code)
	}
	var pending []*intent.PaymentIntent
	if err := json.Unmarshal(pendingRec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("denied proposal must not create intents, got %d", len(pending))
	}
}

func TestHandleIntentSubtreeErrors(t *testing.T) {
	server := newTestServer(t, nil)

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/intents/", nil)
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/intents/missing", nil)
		req.Header.Set("X-Principal-ID", "agent-1")
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("wrong owner", func(t *testing.T) {
		created := proposeIntent(t, server, "agent-1", 700)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/intents/"+created.ID, nil)
		req.Header.Set("X-Principal-ID", "agent-2")
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
		}
	})

	t.Run("approve requires principal", func(t *testing.T) {
		created := proposeIntent(t, server, "agent-1", 700)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/intents/"+created.ID+"/approve", nil)
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("approve requires POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/intents/abc/approve", nil)
		rec := httptest.NewRecorder()
		server.handleIntentSubtree(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestHandleChatCreatesIntent(t *testing.T) {
	model := &scriptedModel{response: &llm.Response{
		Reply:    "Sending 700 sats to ritesh.",
		Proposal: &llm.PaymentProposal{RecipientID: "ritesh", AmountSats: 700, Note: "coffee"},
	}}
	server := newTestServer(t, model)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"pay ritesh 700 sats"}`))
	req.Header.Set("X-Principal-ID", "agent-1")
	rec := httptest.NewRecorder()
	server.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("chat: got status %d body %s", rec.Code, rec.Body.String())
	}
	var result agent.ChatResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode chat result: %v", err)
	}
	if result.Intent == nil || result.Intent.Status != intent.StatusPending {
		t.Fatalf("expected pending intent, got %+v", result.Intent)
	}
}

func TestHandleChatWithoutAdvisor(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	server.handleChat(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestHandlePolicy(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policy", nil)
	rec := httptest.NewRecorder()
	server.handlePolicy(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("policy: got status %d", rec.Code)
	}
	var payload struct {
		MaxSingleTxSats   int64                 `json:"max_single_tx_sats"`
		AllowedRecipients []directory.Recipient `json:"allowed_recipients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if payload.MaxSingleTxSats != 1000 || len(payload.AllowedRecipients) != 1 {
		t.Fatalf("unexpected policy payload: %+v", payload)
	}
}
