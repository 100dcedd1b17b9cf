package policy

import (
	"context"
	"sync"

	"AgentPay-Guard/internal/directory"
	"AgentPay-Guard/internal/ledger"
	"AgentPay-Guard/pkg/logger"
)

// Evaluator 将限额、收款人名录与当日账本组合为完整的策略引擎。
// 名录通过 Provider 周期性刷新，刷新失败时保留最近一次成功的名录，
// 避免外部名录服务抖动导致所有支付被误拒。
type Evaluator struct {
	limits   Limits
	provider directory.Provider
	book     ledger.Ledger

	mu         sync.RWMutex
	recipients []directory.Recipient
}

// NewEvaluator 创建策略引擎，provider 可为 nil（只使用已注入的名录）。
func NewEvaluator(limits Limits, provider directory.Provider, book ledger.Ledger) *Evaluator {
	return &Evaluator{
		limits:   limits,
		provider: provider,
		book:     book,
	}
}

// Refresh 从名录来源拉取最新收款人集合。
// 拉取失败只记录告警日志并保留旧名录，不向调用方返回错误。
func (e *Evaluator) Refresh(ctx context.Context) {
	if e.provider == nil {
		return
	}
	recipients, err := e.provider.ListRecipients(ctx)
	if err != nil {
		logger.Named("policy").Warn("名录刷新失败，沿用上一次结果",
			"error", err,
			"known_recipients", len(e.snapshotRecipients()))
		return
	}
	e.mu.Lock()
	e.recipients = recipients
	e.mu.Unlock()
}

func (e *Evaluator) snapshotRecipients() []directory.Recipient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]directory.Recipient(nil), e.recipients...)
}

// Snapshot 返回当前策略快照，供评估与对外查询接口共用。
func (e *Evaluator) Snapshot() Snapshot {
	return Snapshot{
		Limits:            e.limits,
		AllowedRecipients: e.snapshotRecipients(),
	}
}

// Check 评估某委托主体的一笔拟议转账。
// 返回的 Violation 表示策略拒绝；error 表示账本等基础设施读取失败。
func (e *Evaluator) Check(ctx context.Context, principalID, recipientID string, amountSats int64) (*Violation, error) {
	snapshot := e.Snapshot()

	spent, err := e.book.Spent(ctx, principalID, ledger.Today())
	if err != nil {
		return nil, err
	}

	return Evaluate(snapshot, spent, recipientID, amountSats), nil
}

// ResolveRecipient 查找收款人的结算地址，供执行阶段使用。
func (e *Evaluator) ResolveRecipient(recipientID string) (directory.Recipient, bool) {
	return e.Snapshot().Resolve(recipientID)
}
