package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"AgentPay-Guard/internal/agent"
	"AgentPay-Guard/internal/api"
	"AgentPay-Guard/internal/auth"
	"AgentPay-Guard/internal/config"
	"AgentPay-Guard/internal/custody"
	"AgentPay-Guard/internal/directory"
	"AgentPay-Guard/internal/event"
	"AgentPay-Guard/internal/intent"
	"AgentPay-Guard/internal/ledger"
	"AgentPay-Guard/internal/llm"
	"AgentPay-Guard/internal/llm/openai"
	"AgentPay-Guard/internal/policy"
	"AgentPay-Guard/pkg/logger"
)

// main 是 AgentPay 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentpayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTPAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentpay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AuditPath:   cfg.Logging.AuditPath,
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	// 初始化收款人名录。
	provider, err := createDirectoryProvider(cfg)
	if err != nil {
		return err
	}

	var book ledger.Ledger
	switch cfg.Storage.Ledger.Driver {
	case "", "memory":
		book = ledger.NewMemoryLedger()
	case "redis":
		redisBook, err := ledger.NewRedisLedger(ledger.RedisLedgerConfig{
			Address:  cfg.Storage.Ledger.Redis.Address,
			Password: cfg.Storage.Ledger.Redis.Password,
			DB:       cfg.Storage.Ledger.Redis.DB,
		})
		if err != nil {
			return err
		}
		book = redisBook
	default:
		return fmt.Errorf("未知的账本驱动: %s", cfg.Storage.Ledger.Driver)
	}
	defer func() {
		if book != nil {
			_ = book.Close()
		}
	}()

	var store intent.Store
	switch cfg.Storage.IntentStore.Driver {
	case "", "memory":
		store = intent.NewMemoryStore()
	case "mysql":
		mysqlStore, err := intent.NewMySQLStore(intent.MySQLStoreConfig{
			DSN:             cfg.Storage.IntentStore.DSN,
			MaxOpenConns:    cfg.Storage.IntentStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.IntentStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.IntentStore.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的意图存储驱动: %s", cfg.Storage.IntentStore.Driver)
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	var events event.Queue
	switch cfg.Events.Driver {
	case "", "memory":
		events = event.NewMemoryQueue(1024)
	case "redis":
		queue, err := event.NewRedisQueue(event.RedisQueueConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Queue:    cfg.Events.RedisQueue,
		})
		if err != nil {
			return err
		}
		events = queue
	case "rabbitmq":
		queue, err := event.NewRabbitMQQueue(event.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		events = queue
	default:
		return fmt.Errorf("未知的事件流驱动: %s", cfg.Events.Driver)
	}
	defer func() {
		if events != nil {
			if err := events.Close(); err != nil {
				log.Printf("关闭事件队列失败: %v", err)
			}
		}
	}()

	signer, err := createSigner(ctx, cfg)
	if err != nil {
		return err
	}
	defer signer.Close()

	limits := policy.Limits{
		MinSingleTxSats:     cfg.Policy.MinSingleTxSats,
		MaxSingleTxSats:     cfg.Policy.MaxSingleTxSats,
		DailySpendLimitSats: cfg.Policy.DailySpendLimitSats,
	}
	evaluator := policy.NewEvaluator(limits, provider, book)
	evaluator.Refresh(ctx)

	engine := intent.NewEngine(store, evaluator, book, signer,
		intent.WithPublisher(events),
	)

	// 审计记录器消费生命周期事件。
	recorder := event.NewRecorder(events, cfg.Events.Workers)
	recorderCtx, recorderCancel := context.WithCancel(ctx)
	defer recorderCancel()
	go func() {
		if err := recorder.Run(recorderCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("事件记录器异常退出: %v", err)
		}
	}()

	advisor, err := createAdvisor(cfg, engine)
	if err != nil {
		return err
	}

	authSvc, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, engine, advisor, authSvc)
	if err := server.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func createDirectoryProvider(cfg *config.Config) (directory.Provider, error) {
	switch cfg.Directory.Source {
	case "", "static":
		return directory.LoadStaticProvider(cfg.Directory.Path)
	case "http":
		return directory.NewHTTPProvider(directory.HTTPProviderConfig{
			URL:     cfg.Directory.URL,
			Timeout: time.Duration(cfg.Directory.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的名录来源: %s", cfg.Directory.Source)
	}
}

// createSigner 根据配置选择托管签名器，未配置签名服务时退回到本地模拟。
func createSigner(ctx context.Context, cfg *config.Config) (custody.Signer, error) {
	if strings.TrimSpace(cfg.Custody.SignerURL) == "" {
		log.Println("未配置托管签名服务，使用模拟签名器")
		return custody.NewMockSigner(), nil
	}
	return custody.NewEthereumSigner(ctx, custody.EthereumSignerConfig{
		SignerURL:            cfg.Custody.SignerURL,
		RPCURL:               cfg.Custody.RPCURL,
		WalletAddress:        cfg.Custody.WalletAddress,
		ChainID:              cfg.Custody.ChainID,
		WeiPerSat:            cfg.Custody.WeiPerSat,
		GasLimit:             cfg.Custody.GasLimit,
		MaxFeePerGasWei:      cfg.Custody.MaxFeePerGasWei,
		PriorityFeePerGasWei: cfg.Custody.PriorityFeePerGasWei,
		Timeout:              time.Duration(cfg.Custody.TimeoutSeconds) * time.Second,
	})
}

func createAdvisor(cfg *config.Config, engine *intent.Engine) (*agent.Advisor, error) {
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	if llmClient == nil {
		return nil, nil
	}
	opts := []agent.Option{}
	if cfg.LLM.Provider == "openai" {
		opts = append(opts, agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()))
	}
	return agent.New(llmClient, engine, opts...), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "disabled":
		return nil, nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}
	store, err := auth.NewMemoryStore(seeds)
	if err != nil {
		return nil, err
	}
	return auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:    cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			AccessTTL: cfg.Auth.AccessTTL,
		},
	}, store)
}
