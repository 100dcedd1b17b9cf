package llm

import (
	"context"

	"AgentPay-Guard/internal/directory"
)

// PolicySummary 以自然语言可用的形式向模型描述当前限额。
type PolicySummary struct {
	MinSingleTxSats     int64
	MaxSingleTxSats     int64
	DailySpendLimitSats int64
	SpentTodaySats      int64
}

// Request 描述一轮支付助手对话的上下文。
type Request struct {
	Message  string
	Contacts []directory.Recipient
	Policy   PolicySummary
}

// PaymentProposal 是模型从对话中提取出的拟议支付。
type PaymentProposal struct {
	RecipientID string
	AmountSats  int64
	Note        string
}

// Response 是大模型推理得到的结构化输出。
// Proposal 为 nil 时表示这轮对话只是普通回复，不涉及支付。
type Response struct {
	Reply    string
	Proposal *PaymentProposal
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
