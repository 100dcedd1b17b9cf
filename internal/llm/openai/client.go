package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AgentPay-Guard/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Generate 调用 OpenAI 生成结构化回复。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	return ParseResponse(content), nil
}

// ParseResponse 将模型输出解析为结构化回复。
// 非 JSON 输出按纯文本回复处理，缺字段的提案被忽略。
func ParseResponse(content string) *llm.Response {
	var structured struct {
		Reply       string `json:"reply"`
		Action      string `json:"action"`
		AmountSats  int64  `json:"amount_sats"`
		RecipientID string `json:"recipient_id"`
		Note        string `json:"note"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		return &llm.Response{Reply: content}
	}

	reply := strings.TrimSpace(structured.Reply)
	if reply == "" {
		reply = content
	}
	response := &llm.Response{Reply: reply}

	if structured.Action == "create_payment_intent" &&
		structured.AmountSats > 0 &&
		strings.TrimSpace(structured.RecipientID) != "" {
		response.Proposal = &llm.PaymentProposal{
			RecipientID: strings.TrimSpace(structured.RecipientID),
			AmountSats:  structured.AmountSats,
			Note:        strings.TrimSpace(structured.Note),
		}
	}
	return response
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are a payment assistant operating under a delegated spending policy. " +
	"Always respond with a compact JSON object: " +
	"{\"reply\": string, \"action\": \"create_payment_intent\"|null, \"amount_sats\": number, \"recipient_id\": string, \"note\": string}. " +
	"Only set action when the user clearly asks to pay a known contact, and never " +
	"propose amounts outside the policy limits you are given."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 用户消息\n")
	builder.WriteString(strings.TrimSpace(req.Message))
	builder.WriteString("\n")

	if len(req.Contacts) > 0 {
		builder.WriteString("\n## 可用联系人\n")
		for idx, contact := range req.Contacts {
			name := contact.Name
			if name == "" {
				name = contact.ID
			}
			builder.WriteString(fmt.Sprintf("[%d] %s (id: %s)\n", idx+1, name, contact.ID))
		}
	}

	builder.WriteString("\n## 当前策略\n")
	builder.WriteString(fmt.Sprintf("单笔下限: %d sats\n", req.Policy.MinSingleTxSats))
	builder.WriteString(fmt.Sprintf("单笔上限: %d sats\n", req.Policy.MaxSingleTxSats))
	builder.WriteString(fmt.Sprintf("当日限额: %d sats, 今日已用: %d sats\n",
		req.Policy.DailySpendLimitSats, req.Policy.SpentTodaySats))

	builder.WriteString("\n请判断用户是否在请求一笔支付，并按系统约定输出 JSON。")
	return builder.String()
}
