package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentPay-Guard/internal/agent"
	"AgentPay-Guard/internal/auth"
	xerrors "AgentPay-Guard/internal/errors"
	"AgentPay-Guard/internal/intent"
	"AgentPay-Guard/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供智能体与人工批准者驱动支付流程。
type Server struct {
	addr    string
	engine  *intent.Engine
	advisor *agent.Advisor
	auth    *auth.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, engine *intent.Engine, advisor *agent.Advisor, authSvc *auth.Service) *Server {
	return &Server{addr: addr, engine: engine, advisor: advisor, auth: authSvc}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", s.handleToken)
	mux.Handle("/api/v1/chat", s.protect("chat", map[string][]string{
		http.MethodPost: {auth.PermissionPropose},
	}, s.instrument("chat", s.handleChat)))
	mux.Handle("/api/v1/intents", s.protect("intents", map[string][]string{
		http.MethodPost: {auth.PermissionPropose},
		http.MethodGet:  {auth.PermissionRead},
	}, s.instrument("intents", s.handleIntents)))
	mux.Handle("/api/v1/intents/", s.protect("intent_detail", map[string][]string{
		http.MethodPost: {auth.PermissionApprove},
		http.MethodGet:  {auth.PermissionRead},
	}, s.instrument("intent_detail", s.handleIntentSubtree)))
	mux.Handle("/api/v1/policy", s.protect("policy", map[string][]string{
		http.MethodGet: {auth.PermissionRead},
	}, s.instrument("policy", s.handlePolicy)))
	mux.Handle("/api/v1/spend", s.protect("spend", map[string][]string{
		http.MethodGet: {auth.PermissionRead},
	}, s.instrument("spend", s.handleSpend)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// protect 按需套上认证中间件，认证关闭时直接放行。
func (s *Server) protect(event string, perms map[string][]string, handler http.Handler) http.Handler {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return handler
	}
	return s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: perms,
		AuditEvent:          event,
	})(handler)
}

// instrument 记录每个端点的请求指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// principalOf 解析请求所代表的委托主体。
// 认证开启时取令牌中的用户名，关闭时退回到请求头。
func principalOf(r *http.Request) string {
	if principal := auth.PrincipalFromContext(r.Context()); principal != "" {
		return principal
	}
	return strings.TrimSpace(r.Header.Get("X-Principal-ID"))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		http.Error(w, "认证未启用", http.StatusNotFound)
		return
	}

	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if stdErrors.Is(err, auth.ErrUnsupportedGrant) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.advisor == nil {
		http.Error(w, "对话服务未启用", http.StatusServiceUnavailable)
		return
	}

	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if principal := principalOf(r); principal != "" {
		req.PrincipalID = principal
	}

	result, err := s.advisor.Chat(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleProposeIntent(w, r)
	case http.MethodGet:
		s.handleListIntents(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type proposeRequest struct {
	WalletID    string `json:"wallet_id"`
	RecipientID string `json:"recipient_id"`
	AmountSats  int64  `json:"amount_sats"`
	Note        string `json:"note"`
}

func (s *Server) handleProposeIntent(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "授权引擎未初始化", http.StatusServiceUnavailable)
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	created, err := s.engine.Propose(r.Context(), intent.ProposeRequest{
		PrincipalID: principalOf(r),
		WalletID:    req.WalletID,
		RecipientID: req.RecipientID,
		AmountSats:  req.AmountSats,
		Note:        req.Note,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	results, err := s.engine.List(r.Context(), principalOf(r), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleIntentSubtree 分发 /api/v1/intents/ 下的子路径：
// pending 列表、意图详情与批准操作。
func (s *Server) handleIntentSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/intents/"), "/")
	if path == "" {
		http.Error(w, "缺少意图 ID", http.StatusBadRequest)
		return
	}

	if path == "pending" {
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		results, err := s.engine.ListPending(r.Context(), principalOf(r))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}

	if id, ok := strings.CutSuffix(path, "/approve"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleApprove(w, r, strings.Trim(id, "/"))
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.engine.Get(r.Context(), principalOf(r), path)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		http.Error(w, "缺少意图 ID", http.StatusBadRequest)
		return
	}

	result, err := s.engine.Confirm(r.Context(), principalOf(r), id)
	if err != nil {
		writeApproveError(w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.engine.PolicySnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"min_single_tx_sats":     snapshot.MinSingleTxSats,
		"max_single_tx_sats":     snapshot.MaxSingleTxSats,
		"daily_spend_limit_sats": snapshot.DailySpendLimitSats,
		"allowed_recipients":     snapshot.AllowedRecipients,
	})
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	spent, remaining, err := s.engine.DailySpend(r.Context(), principalOf(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"spent_today_sats": spent,
		"remaining_sats":   remaining,
		"daily_limit_sats": spent + remaining,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Intent  *intent.PaymentIntent `json:"intent,omitempty"`
}

// writeEngineError 将统一错误码映射为 HTTP 状态。
func writeEngineError(w http.ResponseWriter, err error) {
	writeApproveError(w, nil, err)
}

func writeApproveError(w http.ResponseWriter, in *intent.PaymentIntent, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case intent.CodePolicyViolation, intent.CodeInvalidRecipient:
		status = http.StatusUnprocessableEntity
	case intent.CodeIntentNotFound:
		status = http.StatusNotFound
	case intent.CodeIntentForbidden:
		status = http.StatusForbidden
	case intent.CodeIntentFinalized:
		status = http.StatusConflict
	case intent.CodeExecutionFailure:
		status = http.StatusBadGateway
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	}

	message := err.Error()
	if unified, ok := xerrors.From(err); ok {
		message = unified.Message()
	}
	writeJSON(w, status, map[string]errorBody{"error": {
		Code:    string(code),
		Message: message,
		Intent:  in,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
