package intent

import "context"

// Store 抽象了支付意图的持久化接口。
//
// Claim 是批准流程的并发闸门：只有处于 PENDING 且未被占用的意图
// 才能被占用成功，占用是单向的，之后无论执行成败都会进入终态。
type Store interface {
	Create(ctx context.Context, in *PaymentIntent) error
	Get(ctx context.Context, id string) (*PaymentIntent, error)
	List(ctx context.Context, principalID string, limit int) ([]*PaymentIntent, error)
	ListPending(ctx context.Context, principalID string) ([]*PaymentIntent, error)
	Claim(ctx context.Context, principalID, id string) (*PaymentIntent, error)
	MarkExecuted(ctx context.Context, id, txid string) error
	MarkRejected(ctx context.Context, id, reason string) error
	Close() error
}
