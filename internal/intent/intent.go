package intent

import (
	stdErrors "errors"

	xerrors "AgentPay-Guard/internal/errors"
)

// Status 表示支付意图在生命周期中的状态。
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusExecuted Status = "EXECUTED"
	StatusRejected Status = "REJECTED"
)

// PaymentIntent 描述一笔等待人工批准的委托支付。
// 意图只在策略评估通过后才会被创建，因此 PENDING 状态本身
// 就意味着提案时刻策略是满足的。
// WalletID 标识出资钱包；ExecutedAt 与 TxID 仅在 EXECUTED 终态下非零。
type PaymentIntent struct {
	ID            string `json:"id"`
	PrincipalID   string `json:"principal_id"`
	WalletID      string `json:"wallet_id,omitempty"`
	RecipientID   string `json:"recipient_id"`
	AmountSats    int64  `json:"amount_sats"`
	Note          string `json:"note,omitempty"`
	Status        Status `json:"status"`
	TxID          string `json:"txid,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
	ExecutedAt    int64  `json:"executed_at,omitempty"`
}

var (
	// ErrIntentNotFound 表示指定的支付意图不存在。
	ErrIntentNotFound = xerrors.New(CodeIntentNotFound, "payment intent not found")
	// ErrIntentForbidden 表示调用方无权操作该支付意图。
	ErrIntentForbidden = xerrors.New(CodeIntentForbidden, "payment intent belongs to another principal", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrIntentFinalized 表示支付意图已进入终态或已被并发批准占用。
	ErrIntentFinalized = xerrors.New(CodeIntentFinalized, "payment intent already finalized", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrInvalidRecipient 表示批准时收款人已不在名录中。
	ErrInvalidRecipient = xerrors.New(CodeInvalidRecipient, "recipient no longer resolvable", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodePolicyViolation  xerrors.Code = "POLICY_VIOLATION"
	CodeIntentNotFound   xerrors.Code = "INTENT_NOT_FOUND"
	CodeIntentForbidden  xerrors.Code = "INTENT_FORBIDDEN"
	CodeIntentFinalized  xerrors.Code = "INTENT_FINALIZED"
	CodeInvalidRecipient xerrors.Code = "INVALID_RECIPIENT"
	CodeExecutionFailure xerrors.Code = "EXECUTION_FAILURE"
)

func init() {
	xerrors.Register(CodePolicyViolation, xerrors.Attributes{
		Message:   "proposal rejected by delegated policy",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentNotFound, xerrors.Attributes{
		Message:   "payment intent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentForbidden, xerrors.Attributes{
		Message:   "payment intent belongs to another principal",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentFinalized, xerrors.Attributes{
		Message:   "payment intent already finalized",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidRecipient, xerrors.Attributes{
		Message:   "recipient no longer resolvable",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeExecutionFailure, xerrors.Attributes{
		Message:   "payment execution failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsIntentError 判断错误是否命中指定的统一意图错误码。
func IsIntentError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrIntentNotFound) {
		return target == CodeIntentNotFound
	}
	if stdErrors.Is(err, ErrIntentForbidden) {
		return target == CodeIntentForbidden
	}
	if stdErrors.Is(err, ErrIntentFinalized) {
		return target == CodeIntentFinalized
	}
	if stdErrors.Is(err, ErrInvalidRecipient) {
		return target == CodeInvalidRecipient
	}
	return false
}

// IsValidStatus 检查给定的意图状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusExecuted, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(status Status) bool {
	return status == StatusExecuted || status == StatusRejected
}

func clone(in *PaymentIntent) *PaymentIntent {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
