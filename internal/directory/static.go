package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// staticFile models the structure of recipients.yaml.
type staticFile struct {
	Recipients []Recipient `yaml:"recipients"`
}

// StaticProvider 通过加载 YAML 文件提供固定的收款人名录。
type StaticProvider struct {
	recipients []Recipient
}

// NewStaticProvider 创建静态名录实例。
func NewStaticProvider(recipients []Recipient) *StaticProvider {
	return &StaticProvider{recipients: recipients}
}

// LoadStaticProvider 从 YAML 文件加载名录条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("名录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析名录路径失败: %w", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取名录文件失败: %w", err)
	}

	var parsed staticFile
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("解析名录文件失败: %w", err)
	}

	recipients := make([]Recipient, 0, len(parsed.Recipients))
	for _, recipient := range parsed.Recipients {
		if strings.TrimSpace(recipient.ID) == "" || strings.TrimSpace(recipient.Address) == "" {
			continue
		}
		recipients = append(recipients, recipient)
	}
	return NewStaticProvider(recipients), nil
}

// ListRecipients 返回名录的一份拷贝。
func (p *StaticProvider) ListRecipients(_ context.Context) ([]Recipient, error) {
	if p == nil {
		return nil, nil
	}
	return append([]Recipient(nil), p.recipients...), nil
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
