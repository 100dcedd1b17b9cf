package event

import (
	"context"
	"errors"

	"AgentPay-Guard/pkg/logger"
)

// Recorder 消费生命周期事件并写入审计日志，
// 为所有支付决策留下一条独立于业务库的追溯记录。
type Recorder struct {
	consumer Consumer
	workers  int
}

// NewRecorder 创建审计记录器。
func NewRecorder(consumer Consumer, workers int) *Recorder {
	if workers <= 0 {
		workers = 1
	}
	return &Recorder{consumer: consumer, workers: workers}
}

// Run 阻塞消费事件流直到 ctx 取消。
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil || r.consumer == nil {
		return errors.New("审计记录器未初始化")
	}
	err := r.consumer.Consume(ctx, r.workers, func(_ context.Context, e Event) error {
		logger.Audit().Info("intent_event",
			"event_type", string(e.Type),
			"intent_id", e.IntentID,
			"principal_id", e.PrincipalID,
			"recipient_id", e.RecipientID,
			"amount_sats", e.AmountSats,
			"txid", e.TxID,
			"reason", e.Reason,
			"occurred_at", e.OccurredAt,
		)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
