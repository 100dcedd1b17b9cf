package directory

import "context"

// Recipient 描述一个允许收款的联系人。
type Recipient struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Provider 定义收款人名录检索的通用接口。
// 调用失败时上层应沿用最近一次成功获取的名录，而不是中断策略评估。
type Provider interface {
	ListRecipients(ctx context.Context) ([]Recipient, error)
}
