package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 AgentPay 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Policy    PolicyConfig    `json:"policy"`
	Directory DirectoryConfig `json:"directory"`
	Storage   StorageConfig   `json:"storage"`
	Custody   CustodyConfig   `json:"custody"`
	LLM       LLMConfig       `json:"llm"`
	Events    EventsConfig    `json:"events"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 描述身份认证方式与种子账号。
type AuthConfig struct {
	Mode      string     `json:"mode"`
	JWTSecret string     `json:"jwt_secret"`
	Issuer    string     `json:"issuer"`
	AccessTTL int64      `json:"access_ttl_seconds"`
	Seeds     []AuthSeed `json:"seeds"`
}

// AuthSeed 定义启动时写入用户存储的初始账号。
type AuthSeed struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// PolicyConfig 定义委托支付策略的硬性限额。
type PolicyConfig struct {
	MinSingleTxSats     int64 `json:"min_single_tx_sats"`
	MaxSingleTxSats     int64 `json:"max_single_tx_sats"`
	DailySpendLimitSats int64 `json:"daily_spend_limit_sats"`
}

// DirectoryConfig 描述收款人名录的来源。
type DirectoryConfig struct {
	// Source 支持 static 与 http 两种驱动。
	Source string `json:"source"`
	// Path 指向 static 驱动使用的 YAML 名录文件。
	Path string `json:"path"`
	// URL 指向 http 驱动使用的名录服务。
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// StorageConfig 统一描述意图存储与支出账本的后端。
type StorageConfig struct {
	IntentStore IntentStoreConfig `json:"intent_store"`
	Ledger      LedgerConfig      `json:"ledger"`
}

// IntentStoreConfig 目前提供内存与 MySQL 两种实现。
type IntentStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// LedgerConfig 描述每日支出账本的后端。
type LedgerConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// CustodyConfig 描述托管签名服务与链上广播所需的参数。
// 费率字段在链上查询不可用时作为兜底，单位为 wei。
type CustodyConfig struct {
	SignerURL            string `json:"signer_url"`
	RPCURL               string `json:"rpc_url"`
	WalletAddress        string `json:"wallet_address"`
	ChainID              int64  `json:"chain_id"`
	WeiPerSat            string `json:"wei_per_sat"`
	GasLimit             uint64 `json:"gas_limit"`
	MaxFeePerGasWei      string `json:"max_fee_per_gas_wei"`
	PriorityFeePerGasWei string `json:"priority_fee_per_gas_wei"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述调用 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EventsConfig 描述意图生命周期事件流的投递方式。
type EventsConfig struct {
	Driver     string         `json:"driver"`
	Workers    int            `json:"workers"`
	Redis      RedisConfig    `json:"redis"`
	RedisQueue string         `json:"redis_queue"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.AccessTTL <= 0 {
		c.Auth.AccessTTL = 3600
	}

	if c.Policy.MinSingleTxSats <= 0 {
		c.Policy.MinSingleTxSats = 1
	}
	if c.Policy.MaxSingleTxSats <= 0 {
		c.Policy.MaxSingleTxSats = 10000
	}
	if c.Policy.DailySpendLimitSats <= 0 {
		c.Policy.DailySpendLimitSats = 50000
	}

	if c.Directory.Source == "" {
		c.Directory.Source = "static"
	}
	if c.Directory.Path == "" {
		c.Directory.Path = filepath.Join(baseDir, "recipients.yaml")
	} else if !filepath.IsAbs(c.Directory.Path) {
		c.Directory.Path = filepath.Join(baseDir, c.Directory.Path)
	}
	if c.Directory.TimeoutSeconds <= 0 {
		c.Directory.TimeoutSeconds = 10
	}

	if c.Storage.IntentStore.Driver == "" {
		c.Storage.IntentStore.Driver = "memory"
	}
	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}

	if c.Custody.WeiPerSat == "" {
		c.Custody.WeiPerSat = "1000000000000"
	}
	if c.Custody.GasLimit == 0 {
		c.Custody.GasLimit = 21000
	}
	if c.Custody.ChainID == 0 {
		c.Custody.ChainID = 1
	}
	if c.Custody.TimeoutSeconds <= 0 {
		c.Custody.TimeoutSeconds = 30
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "disabled"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 1
	}
	if c.Events.RedisQueue == "" {
		c.Events.RedisQueue = "agentpay:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "agentpay.events"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
