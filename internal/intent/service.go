package intent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentPay-Guard/internal/custody"
	xerrors "AgentPay-Guard/internal/errors"
	"AgentPay-Guard/internal/event"
	"AgentPay-Guard/internal/ledger"
	"AgentPay-Guard/internal/observability/alerting"
	"AgentPay-Guard/internal/observability/metrics"
	"AgentPay-Guard/internal/policy"
	"AgentPay-Guard/pkg/logger"
)

// Engine 负责支付意图的提案、批准与执行编排。
//
// 策略只在提案时刻评估；批准流程的顺序是刻意固定的：先抢占意图，
// 再解析收款地址，然后签名广播，最后写入终态并提交当日账本。
// 抢占保证并发批准只有一个赢家，账本只在执行成功后记账。
type Engine struct {
	store     Store
	evaluator *policy.Evaluator
	book      ledger.Ledger
	signer    custody.Signer
	publisher event.Publisher
	alerter   alerting.Dispatcher
}

// EngineOption 调整 Engine 的可选依赖。
type EngineOption func(*Engine)

// WithPublisher 配置生命周期事件的发布端。
func WithPublisher(publisher event.Publisher) EngineOption {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithAlerter 配置执行失败时的告警分发器。
func WithAlerter(alerter alerting.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.alerter = alerter
	}
}

// NewEngine 构造授权引擎。
func NewEngine(store Store, evaluator *policy.Evaluator, book ledger.Ledger, signer custody.Signer, opts ...EngineOption) *Engine {
	engine := &Engine{
		store:     store,
		evaluator: evaluator,
		book:      book,
		signer:    signer,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// ProposeRequest 描述一笔拟议支付。WalletID 标识出资钱包，
// 为空时由托管配置决定实际签名钱包。
type ProposeRequest struct {
	PrincipalID string
	WalletID    string
	RecipientID string
	AmountSats  int64
	Note        string
}

// Propose 评估拟议支付，通过策略后创建 PENDING 意图。
// 策略拒绝不会留下任何实体，只返回带原因的 POLICY_VIOLATION 错误。
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (*PaymentIntent, error) {
	if e.store == nil || e.evaluator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "授权引擎未初始化")
	}
	if strings.TrimSpace(req.PrincipalID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托主体不能为空")
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收款人不能为空")
	}
	if req.AmountSats <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额必须为正数")
	}

	e.evaluator.Refresh(ctx)
	violation, err := e.evaluator.Check(ctx, req.PrincipalID, req.RecipientID, req.AmountSats)
	if err != nil {
		return nil, err
	}
	if violation != nil {
		metrics.ObservePolicyDenial(violation.Rule)
		logger.Audit().Info("提案被策略拒绝",
			slog.String("principal_id", req.PrincipalID),
			slog.String("recipient_id", req.RecipientID),
			slog.Int64("amount_sats", req.AmountSats),
			slog.String("rule", violation.Rule),
			slog.String("reason", violation.Reason),
		)
		return nil, xerrors.New(CodePolicyViolation, violation.Reason,
			xerrors.WithMetadata("rule", violation.Rule))
	}

	in := &PaymentIntent{
		ID:          uuid.NewString(),
		PrincipalID: req.PrincipalID,
		WalletID:    req.WalletID,
		RecipientID: req.RecipientID,
		AmountSats:  req.AmountSats,
		Note:        req.Note,
		Status:      StatusPending,
	}
	if err := e.store.Create(ctx, in); err != nil {
		return nil, err
	}

	metrics.ObserveProposal()
	e.publish(ctx, event.Event{
		Type:        event.TypeIntentCreated,
		IntentID:    in.ID,
		PrincipalID: in.PrincipalID,
		RecipientID: in.RecipientID,
		AmountSats:  in.AmountSats,
	})
	logger.Audit().Info("支付意图已创建",
		slog.String("intent_id", in.ID),
		slog.String("principal_id", in.PrincipalID),
		slog.String("recipient_id", in.RecipientID),
		slog.Int64("amount_sats", in.AmountSats),
	)
	return in, nil
}

// Confirm 批准并执行一笔待确认的支付意图。
//
// 并发批准同一意图时只有一个调用方会抢占成功，其余得到
// INTENT_FINALIZED；签名服务最多只会被调用一次。
func (e *Engine) Confirm(ctx context.Context, principalID, id string) (*PaymentIntent, error) {
	if e.store == nil || e.evaluator == nil || e.signer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "授权引擎未初始化")
	}
	if strings.TrimSpace(principalID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托主体不能为空")
	}

	in, err := e.store.Claim(ctx, principalID, id)
	if err != nil {
		return in, err
	}

	// 名录在创建与批准之间可能已变化，按批准时刻的名录解析地址。
	e.evaluator.Refresh(ctx)
	recipient, ok := e.evaluator.ResolveRecipient(in.RecipientID)
	if !ok {
		return e.reject(ctx, in, CodeInvalidRecipient, "recipient '"+in.RecipientID+"' is no longer resolvable")
	}

	txid, err := e.signer.SignAndSubmit(ctx, custody.Payment{
		IntentID:   in.ID,
		Recipient:  recipient.Address,
		AmountSats: in.AmountSats,
		Note:       in.Note,
	})
	if err != nil {
		logger.L().Error("支付执行失败",
			slog.String("intent_id", in.ID),
			slog.Any("error", err))
		e.alert(ctx, in, err)
		return e.reject(ctx, in, CodeExecutionFailure, err.Error())
	}

	if err := e.store.MarkExecuted(ctx, in.ID, txid); err != nil {
		// 交易已广播但终态落库失败，必须告警人工介入。
		logger.L().Error("记录执行结果失败",
			slog.String("intent_id", in.ID),
			slog.String("txid", txid),
			slog.Any("error", err))
		e.alert(ctx, in, err)
		return nil, err
	}

	// 账本只在终态写入之后记账，失败不回滚已上链的交易。
	if err := e.book.Add(ctx, in.PrincipalID, ledger.Today(), in.AmountSats); err != nil {
		logger.L().Error("账本记账失败",
			slog.String("intent_id", in.ID),
			slog.String("principal_id", in.PrincipalID),
			slog.Any("error", err))
		e.alert(ctx, in, err)
	}

	now := time.Now().Unix()
	in.Status = StatusExecuted
	in.TxID = txid
	in.UpdatedAt = now
	in.ExecutedAt = now

	metrics.ObserveExecution()
	e.publish(ctx, event.Event{
		Type:        event.TypeIntentExecuted,
		IntentID:    in.ID,
		PrincipalID: in.PrincipalID,
		RecipientID: in.RecipientID,
		AmountSats:  in.AmountSats,
		TxID:        txid,
	})
	logger.Audit().Info("支付意图已执行",
		slog.String("intent_id", in.ID),
		slog.String("principal_id", in.PrincipalID),
		slog.String("txid", txid),
		slog.Int64("amount_sats", in.AmountSats),
	)
	return in, nil
}

// reject 将已抢占的意图写入 REJECTED 终态并返回对应错误。
func (e *Engine) reject(ctx context.Context, in *PaymentIntent, code xerrors.Code, reason string) (*PaymentIntent, error) {
	if err := e.store.MarkRejected(ctx, in.ID, reason); err != nil {
		logger.L().Error("记录拒绝结果失败",
			slog.String("intent_id", in.ID),
			slog.Any("error", err))
		return nil, err
	}

	in.Status = StatusRejected
	in.FailureReason = reason
	in.UpdatedAt = time.Now().Unix()

	metrics.ObserveRejection(string(code))
	e.publish(ctx, event.Event{
		Type:        event.TypeIntentRejected,
		IntentID:    in.ID,
		PrincipalID: in.PrincipalID,
		RecipientID: in.RecipientID,
		AmountSats:  in.AmountSats,
		Reason:      reason,
	})
	logger.Audit().Info("支付意图被拒绝",
		slog.String("intent_id", in.ID),
		slog.String("principal_id", in.PrincipalID),
		slog.String("code", string(code)),
		slog.String("reason", reason),
	)
	return in, xerrors.New(code, reason)
}

func (e *Engine) publish(ctx context.Context, evt event.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		logger.L().Warn("发布生命周期事件失败",
			slog.String("intent_id", evt.IntentID),
			slog.String("event_type", string(evt.Type)),
			slog.Any("error", err))
	}
}

func (e *Engine) alert(ctx context.Context, in *PaymentIntent, cause error) {
	if e.alerter == nil {
		return
	}
	notifyErr := e.alerter.Notify(ctx, alerting.Event{
		Code:        xerrors.CodeOf(cause),
		Message:     cause.Error(),
		Severity:    xerrors.SeverityOf(cause),
		IntentID:    in.ID,
		PrincipalID: in.PrincipalID,
		AmountSats:  in.AmountSats,
		OccurredAt:  time.Now(),
	})
	if notifyErr != nil {
		logger.L().Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}

// Get 返回指定支付意图，并校验调用方归属。
func (e *Engine) Get(ctx context.Context, principalID, id string) (*PaymentIntent, error) {
	if e.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	in, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.PrincipalID != principalID {
		return nil, ErrIntentForbidden
	}
	return in, nil
}

// List 返回某委托主体最近的支付意图。
func (e *Engine) List(ctx context.Context, principalID string, limit int) ([]*PaymentIntent, error) {
	if e.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	return e.store.List(ctx, principalID, limit)
}

// ListPending 返回某委托主体待批准的支付意图。
func (e *Engine) ListPending(ctx context.Context, principalID string) ([]*PaymentIntent, error) {
	if e.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	return e.store.ListPending(ctx, principalID)
}

// PolicySnapshot 返回当前生效的策略快照。
func (e *Engine) PolicySnapshot(ctx context.Context) policy.Snapshot {
	e.evaluator.Refresh(ctx)
	return e.evaluator.Snapshot()
}

// DailySpend 返回某委托主体今日已确认的支出与剩余额度。
func (e *Engine) DailySpend(ctx context.Context, principalID string) (spent, remaining int64, err error) {
	spent, err = e.book.Spent(ctx, principalID, ledger.Today())
	if err != nil {
		return 0, 0, err
	}
	limit := e.evaluator.Snapshot().DailySpendLimitSats
	remaining = limit - spent
	if remaining < 0 {
		remaining = 0
	}
	return spent, remaining, nil
}

// IsFinalized 判断错误是否表示意图已被并发批准占用或进入终态。
func IsFinalized(err error) bool {
	return stdErrors.Is(err, ErrIntentFinalized)
}

// Close 释放引擎持有的资源。
func (e *Engine) Close() error {
	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.book != nil {
		errs = append(errs, e.book.Close())
	}
	if e.signer != nil {
		errs = append(errs, e.signer.Close())
	}
	if e.publisher != nil {
		errs = append(errs, e.publisher.Close())
	}
	return stdErrors.Join(errs...)
}
