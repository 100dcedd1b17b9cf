package ledger

import (
	"context"
	"sync"
)

type spendKey struct {
	principal string
	day       Day
}

// MemoryLedger 以内存方式维护每日支出，进程重启后清零。
type MemoryLedger struct {
	mu    sync.RWMutex
	spent map[spendKey]int64
}

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{spent: make(map[spendKey]int64)}
}

// Spent 实现 Ledger 接口。
func (l *MemoryLedger) Spent(_ context.Context, principalID string, day Day) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.spent[spendKey{principal: principalID, day: day}], nil
}

// Add 实现 Ledger 接口。
func (l *MemoryLedger) Add(_ context.Context, principalID string, day Day, amountSats int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent[spendKey{principal: principalID, day: day}] += amountSats
	return nil
}

// Close 对内存账本无需操作。
func (l *MemoryLedger) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Ledger = (*MemoryLedger)(nil)
