package policy

import (
	"fmt"
	"strings"

	"AgentPay-Guard/internal/directory"
)

// Limits 定义委托支付策略的硬性限额。
type Limits struct {
	MinSingleTxSats     int64
	MaxSingleTxSats     int64
	DailySpendLimitSats int64
}

// Snapshot 是一次策略评估所依据的不可变快照。
// 评估期间名录不会变化，保证决策函数可以脱离网络单独测试。
type Snapshot struct {
	Limits
	AllowedRecipients []directory.Recipient
}

// 拒绝规则标识，用于指标与日志聚合。
const (
	RuleMinAmount = "min_amount"
	RuleMaxAmount = "max_amount"
	RuleRecipient = "recipient"
	RuleDailyCap  = "daily_cap"
)

// Violation 描述一次被拒绝的策略评估，Reason 始终面向用户可读。
type Violation struct {
	Rule   string
	Reason string
}

// Error 实现 error 接口，便于上层直接透出拒绝原因。
func (v *Violation) Error() string {
	if v == nil {
		return ""
	}
	return v.Reason
}

// Resolve 在快照中查找收款人，返回其结算地址。
func (s Snapshot) Resolve(recipientID string) (directory.Recipient, bool) {
	for _, recipient := range s.AllowedRecipients {
		if recipient.ID == recipientID {
			return recipient, true
		}
	}
	return directory.Recipient{}, false
}

// allowedIDs 返回快照中全部收款人 ID，用于拒绝原因的提示。
func (s Snapshot) allowedIDs() string {
	ids := make([]string, 0, len(s.AllowedRecipients))
	for _, recipient := range s.AllowedRecipients {
		ids = append(ids, recipient.ID)
	}
	return strings.Join(ids, ", ")
}

// Evaluate 按固定顺序检查一笔拟议转账，返回第一个被违反的规则。
// 这是一个纯谓词：只读取入参与 spentToday，绝不提交任何支出。
func Evaluate(snapshot Snapshot, spentToday int64, recipientID string, amountSats int64) *Violation {
	if amountSats < snapshot.MinSingleTxSats {
		return &Violation{Rule: RuleMinAmount, Reason: fmt.Sprintf(
			"Amount %d sats is below minimum single transaction limit of %d sats",
			amountSats, snapshot.MinSingleTxSats)}
	}

	if amountSats > snapshot.MaxSingleTxSats {
		return &Violation{Rule: RuleMaxAmount, Reason: fmt.Sprintf(
			"Amount %d sats exceeds maximum single transaction limit of %d sats",
			amountSats, snapshot.MaxSingleTxSats)}
	}

	if _, ok := snapshot.Resolve(recipientID); !ok {
		return &Violation{Rule: RuleRecipient, Reason: fmt.Sprintf(
			"Recipient '%s' is not in allowed recipients list. Allowed: %s",
			recipientID, snapshot.allowedIDs())}
	}

	if spentToday+amountSats > snapshot.DailySpendLimitSats {
		return &Violation{Rule: RuleDailyCap, Reason: fmt.Sprintf(
			"Daily spend limit exceeded. Current: %d sats, Requested: %d sats, Limit: %d sats",
			spentToday, amountSats, snapshot.DailySpendLimitSats)}
	}

	return nil
}
