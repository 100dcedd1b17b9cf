package custody

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	xerrors "AgentPay-Guard/internal/errors"
)

// MockSigner 生成确定性的伪交易哈希，用于本地联调与测试。
type MockSigner struct {
	mu       sync.Mutex
	FailWith error
	payments []Payment
}

// NewMockSigner 创建 MockSigner。
func NewMockSigner() *MockSigner {
	return &MockSigner{}
}

// SignAndSubmit 实现 Signer 接口。
func (m *MockSigner) SignAndSubmit(_ context.Context, payment Payment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, m.FailWith, "托管签名失败")
	}
	m.payments = append(m.payments, payment)

	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", payment.IntentID, payment.Recipient, payment.AmountSats)))
	return "0x" + hex.EncodeToString(digest[:]), nil
}

// Payments 返回已提交的转账记录拷贝。
func (m *MockSigner) Payments() []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Payment(nil), m.payments...)
}

// Close 对 MockSigner 无需操作。
func (m *MockSigner) Close() error {
	return nil
}

var _ Signer = (*MockSigner)(nil)
