package intent

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentPay-Guard/internal/errors"
)

// memoryRecord 在内存中额外记录占用标记，标记不对外暴露。
type memoryRecord struct {
	intent  PaymentIntent
	claimed bool
}

// MemoryStore 以内存方式保存支付意图，主要用于测试与单机运行。
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*memoryRecord
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*memoryRecord)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, in *PaymentIntent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付意图不能为空")
	}
	if in.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付意图 ID 不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[in.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "支付意图 ID 已存在")
	}
	now := time.Now().Unix()
	if in.CreatedAt == 0 {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	m.intents[in.ID] = &memoryRecord{intent: *in}
	return nil
}

// Get 返回支付意图的一份拷贝。
func (m *MemoryStore) Get(_ context.Context, id string) (*PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return clone(&record.intent), nil
}

// List 返回某委托主体最近的支付意图，按创建时间倒序。
func (m *MemoryStore) List(_ context.Context, principalID string, limit int) ([]*PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*PaymentIntent, 0, len(m.intents))
	for _, record := range m.intents {
		if principalID != "" && record.intent.PrincipalID != principalID {
			continue
		}
		results = append(results, clone(&record.intent))
	}

	sortNewestFirst(results)

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListPending 返回某委托主体尚未终结的支付意图，排序与 List 一致。
func (m *MemoryStore) ListPending(_ context.Context, principalID string) ([]*PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*PaymentIntent, 0)
	for _, record := range m.intents {
		if record.intent.Status != StatusPending {
			continue
		}
		if principalID != "" && record.intent.PrincipalID != principalID {
			continue
		}
		results = append(results, clone(&record.intent))
	}

	sortNewestFirst(results)
	return results, nil
}

// sortNewestFirst 按创建时间倒序排列，同一秒内的记录以 ID 保证稳定顺序。
func sortNewestFirst(results []*PaymentIntent) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
}

// Claim 以单向占用的方式锁定一笔待批准的支付意图。
// 校验顺序固定：先存在性，再归属，最后状态与占用标记。
func (m *MemoryStore) Claim(_ context.Context, principalID, id string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if record.intent.PrincipalID != principalID {
		return nil, ErrIntentForbidden
	}
	if record.intent.Status != StatusPending || record.claimed {
		return clone(&record.intent), ErrIntentFinalized
	}
	record.claimed = true
	record.intent.UpdatedAt = time.Now().Unix()
	return clone(&record.intent), nil
}

// MarkExecuted 记录成功执行的交易哈希。
func (m *MemoryStore) MarkExecuted(_ context.Context, id, txid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	now := time.Now().Unix()
	record.intent.Status = StatusExecuted
	record.intent.TxID = txid
	record.intent.FailureReason = ""
	record.intent.UpdatedAt = now
	record.intent.ExecutedAt = now
	return nil
}

// MarkRejected 记录拒绝原因。
func (m *MemoryStore) MarkRejected(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	record.intent.Status = StatusRejected
	record.intent.FailureReason = reason
	record.intent.UpdatedAt = time.Now().Unix()
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
