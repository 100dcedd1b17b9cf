package custody

import (
	"context"
	"math/big"
	"strings"

	xerrors "AgentPay-Guard/internal/errors"
)

// Payment 描述一笔已批准、等待上链的转账。
// 金额在这里仍以聪计价，换算到 wei 是托管层的内部细节。
type Payment struct {
	IntentID   string
	Recipient  string
	AmountSats int64
	Note       string
}

// Signer 抽象托管签名与广播。实现方负责拼装交易、请求远程签名并
// 将签名结果广播上链，成功时返回交易哈希。
type Signer interface {
	SignAndSubmit(ctx context.Context, payment Payment) (string, error)
	Close() error
}

// DefaultWeiPerSat 是聪到 wei 的缺省换算比例（1 sat = 1e12 wei）。
const DefaultWeiPerSat = "1000000000000"

// ParseWeiPerSat 解析十进制换算比例字符串。
func ParseWeiPerSat(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultWeiPerSat
	}
	rate, ok := new(big.Int).SetString(raw, 10)
	if !ok || rate.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的 wei_per_sat 换算比例: "+raw)
	}
	return rate, nil
}

// SatsToWei 将聪金额换算为 wei。换算只发生在托管边界，
// 策略与账本始终以聪为单位。
func SatsToWei(amountSats int64, weiPerSat *big.Int) *big.Int {
	return new(big.Int).Mul(big.NewInt(amountSats), weiPerSat)
}
