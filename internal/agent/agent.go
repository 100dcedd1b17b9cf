package agent

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "AgentPay-Guard/internal/errors"
	"AgentPay-Guard/internal/intent"
	"AgentPay-Guard/internal/llm"
)

// ChatRequest 描述一轮支付助手对话。
type ChatRequest struct {
	PrincipalID string `json:"principal_id"`
	Message     string `json:"message"`
}

// ChatResult 汇总大模型回复与可能产生的支付意图。
// Intent 非空表示模型提出的支付通过了策略评估并等待批准；
// Denial 非空表示提案被策略拒绝，对话继续但没有留下实体。
type ChatResult struct {
	Reply  string                `json:"reply"`
	Intent *intent.PaymentIntent `json:"intent,omitempty"`
	Denial string                `json:"denial,omitempty"`
}

// Advisor 协调大模型与授权引擎，是对话入口的业务核心。
type Advisor struct {
	llmClient  llm.Client
	engine     *intent.Engine
	llmTimeout time.Duration
}

// Option 定义可选的 Advisor 配置。
type Option func(*Advisor)

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Advisor) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// New 创建一个 Advisor。
func New(llmClient llm.Client, engine *intent.Engine, opts ...Option) *Advisor {
	advisor := &Advisor{
		llmClient: llmClient,
		engine:    engine,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(advisor)
		}
	}
	return advisor
}

// Chat 处理一轮对话：收集策略上下文、调用大模型，并在模型提出
// 支付时走完整的提案流程。
func (a *Advisor) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if a.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置授权引擎")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "对话内容不能为空")
	}
	if strings.TrimSpace(req.PrincipalID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托主体不能为空")
	}

	snapshot := a.engine.PolicySnapshot(ctx)
	spent, _, err := a.engine.DailySpend(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	response, err := a.llmClient.Generate(llmCtx, llm.Request{
		Message:  req.Message,
		Contacts: snapshot.AllowedRecipients,
		Policy: llm.PolicySummary{
			MinSingleTxSats:     snapshot.MinSingleTxSats,
			MaxSingleTxSats:     snapshot.MaxSingleTxSats,
			DailySpendLimitSats: snapshot.DailySpendLimitSats,
			SpentTodaySats:      spent,
		},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "调用大模型失败")
	}

	result := &ChatResult{Reply: response.Reply}
	if response.Proposal == nil {
		return result, nil
	}

	created, err := a.engine.Propose(ctx, intent.ProposeRequest{
		PrincipalID: req.PrincipalID,
		RecipientID: response.Proposal.RecipientID,
		AmountSats:  response.Proposal.AmountSats,
		Note:        response.Proposal.Note,
	})
	if err != nil {
		// 策略拒绝不终止对话，把原因带回给用户。
		if unified, ok := xerrors.From(err); ok && unified.Code() == intent.CodePolicyViolation {
			result.Denial = unified.Message()
			return result, nil
		}
		return nil, err
	}

	result.Intent = created
	return result, nil
}

// IsValidationError 判断错误是否为入参校验失败。
func IsValidationError(err error) bool {
	var unified *xerrors.Error
	if stdErrors.As(err, &unified) {
		return unified.Code() == xerrors.CodeInvalidArgument
	}
	return false
}
