package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentPay Guard REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents principal credentials used to obtain access tokens.
type Credentials struct {
	GrantType string `json:"grant_type,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// IntentSubmission represents the payload required to propose a payment intent.
type IntentSubmission struct {
	WalletID    string `json:"wallet_id,omitempty"`
	RecipientID string `json:"recipient_id"`
	AmountSats  int64  `json:"amount_sats"`
	Note        string `json:"note,omitempty"`
}

// Intent mirrors a payment intent as returned by the API.
type Intent struct {
	ID            string `json:"id"`
	PrincipalID   string `json:"principal_id"`
	WalletID      string `json:"wallet_id,omitempty"`
	RecipientID   string `json:"recipient_id"`
	AmountSats    int64  `json:"amount_sats"`
	Note          string `json:"note,omitempty"`
	Status        string `json:"status"`
	TxID          string `json:"txid,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
	ExecutedAt    int64  `json:"executed_at,omitempty"`
}

// ChatResult captures the outcome of a conversational turn. Intent is set when
// the model proposed a payment that passed policy; Denial carries the policy
// reason when the proposal was blocked.
type ChatResult struct {
	Reply  string  `json:"reply"`
	Intent *Intent `json:"intent,omitempty"`
	Denial string  `json:"denial,omitempty"`
}

// Policy describes the active spending limits and the allowed recipients.
type Policy struct {
	MinSingleTxSats     int64       `json:"min_single_tx_sats"`
	MaxSingleTxSats     int64       `json:"max_single_tx_sats"`
	DailySpendLimitSats int64       `json:"daily_spend_limit_sats"`
	AllowedRecipients   []Recipient `json:"allowed_recipients"`
}

// Recipient is a payee from the allowed recipients directory.
type Recipient struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Spend reports the principal's spending against the daily cap.
type Spend struct {
	SpentTodaySats int64 `json:"spent_today_sats"`
	RemainingSats  int64 `json:"remaining_sats"`
	DailyLimitSats int64 `json:"daily_limit_sats"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Intent     *Intent `json:"intent,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentpay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentpay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentPay Guard API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Authenticate exchanges principal credentials for an access token and stores
// it for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token, false); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// Chat sends a natural language message and returns the assistant's reply
// along with any payment intent it created.
func (c *Client) Chat(ctx context.Context, message string) (ChatResult, error) {
	var result ChatResult
	payload := struct {
		Message string `json:"message"`
	}{Message: message}
	if err := c.post(ctx, "/api/v1/chat", payload, &result, true); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// ProposeIntent creates a new payment intent pending approval.
func (c *Client) ProposeIntent(ctx context.Context, submission IntentSubmission) (Intent, error) {
	var created Intent
	if err := c.post(ctx, "/api/v1/intents", submission, &created, true); err != nil {
		return Intent{}, err
	}
	return created, nil
}

// ApproveIntent confirms a pending intent, triggering signing and broadcast.
func (c *Client) ApproveIntent(ctx context.Context, intentID string) (Intent, error) {
	var approved Intent
	endpoint := fmt.Sprintf("/api/v1/intents/%s/approve", url.PathEscape(intentID))
	if err := c.post(ctx, endpoint, struct{}{}, &approved, true); err != nil {
		return Intent{}, err
	}
	return approved, nil
}

// GetIntent fetches intent details by identifier.
func (c *Client) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	var detail Intent
	endpoint := fmt.Sprintf("/api/v1/intents/%s", url.PathEscape(intentID))
	if err := c.get(ctx, endpoint, &detail, true); err != nil {
		return Intent{}, err
	}
	return detail, nil
}

// ListIntents returns the caller's most recent intents.
func (c *Client) ListIntents(ctx context.Context, limit int) ([]Intent, error) {
	endpoint := "/api/v1/intents"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var results []Intent
	if err := c.get(ctx, endpoint, &results, true); err != nil {
		return nil, err
	}
	return results, nil
}

// ListPendingIntents returns the caller's intents awaiting approval.
func (c *Client) ListPendingIntents(ctx context.Context) ([]Intent, error) {
	var results []Intent
	if err := c.get(ctx, "/api/v1/intents/pending", &results, true); err != nil {
		return nil, err
	}
	return results, nil
}

// GetPolicy returns the active spending policy.
func (c *Client) GetPolicy(ctx context.Context) (Policy, error) {
	var policy Policy
	if err := c.get(ctx, "/api/v1/policy", &policy, true); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// GetSpend returns the caller's spending against the daily cap.
func (c *Client) GetSpend(ctx context.Context) (Spend, error) {
	var spend Spend
	if err := c.get(ctx, "/api/v1/spend", &spend, true); err != nil {
		return Spend{}, err
	}
	return spend, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return nil, errors.New("agentpay: access token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
