package event

import (
	"context"
	"encoding/json"
	"time"

	xerrors "AgentPay-Guard/internal/errors"
)

// Type 标识支付意图生命周期事件。
type Type string

const (
	TypeIntentCreated  Type = "intent.created"
	TypeIntentExecuted Type = "intent.executed"
	TypeIntentRejected Type = "intent.rejected"
)

// Event 是发布到事件流的意图生命周期记录。
type Event struct {
	Type        Type   `json:"type"`
	IntentID    string `json:"intent_id"`
	PrincipalID string `json:"principal_id"`
	RecipientID string `json:"recipient_id"`
	AmountSats  int64  `json:"amount_sats"`
	TxID        string `json:"txid,omitempty"`
	Reason      string `json:"reason,omitempty"`
	OccurredAt  int64  `json:"occurred_at"`
}

// Encode 将事件序列化为队列消息。
func (e Event) Encode() ([]byte, error) {
	if e.OccurredAt == 0 {
		e.OccurredAt = time.Now().Unix()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码事件失败")
	}
	return payload, nil
}

// Decode 从队列消息还原事件。
func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析事件失败")
	}
	return e, nil
}

// Handler 处理一条已解码的生命周期事件。
type Handler func(ctx context.Context, e Event) error

// Publisher 负责向事件流投递生命周期事件。
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Consumer 负责从事件流中消费生命周期事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Publisher
	Consumer
}
