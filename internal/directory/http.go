package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPProviderConfig 描述远程名录服务的访问参数。
type HTTPProviderConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPProvider 从外部账户管理系统拉取收款人名录。
type HTTPProvider struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPProvider 创建远程名录客户端。
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("未配置名录服务地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPProvider{
		url:        url,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// ListRecipients 请求远程名录服务并解析返回的 JSON 列表。
func (p *HTTPProvider) ListRecipients(ctx context.Context) ([]Recipient, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("构建名录请求失败: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求名录服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("名录服务返回错误状态 %d", resp.StatusCode)
	}

	var decoded struct {
		Recipients []Recipient `json:"recipients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析名录响应失败: %w", err)
	}

	recipients := make([]Recipient, 0, len(decoded.Recipients))
	for _, recipient := range decoded.Recipients {
		if strings.TrimSpace(recipient.ID) == "" || strings.TrimSpace(recipient.Address) == "" {
			continue
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

var _ Provider = (*HTTPProvider)(nil)
