package custody

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	xerrors "AgentPay-Guard/internal/errors"
	"AgentPay-Guard/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// EthereumSignerConfig 描述以太坊托管签名器所需的全部参数。
// 费率字段是链上查询不可用时的兜底，单位均为 wei。
type EthereumSignerConfig struct {
	SignerURL            string
	RPCURL               string
	WalletAddress        string
	ChainID              int64
	WeiPerSat            string
	GasLimit             uint64
	MaxFeePerGasWei      string
	PriorityFeePerGasWei string
	Timeout              time.Duration
}

// 链上费率查询失败时使用的缺省兜底。
const (
	defaultPriorityFeeWei = "1500000000"  // 1.5 gwei
	defaultMaxFeeWei      = "30000000000" // 30 gwei
)

// EthereumSigner 拼装 EIP-1559 交易，请求外部签名服务签名后广播。
// 私钥从不进入本进程，签名服务只看到序列化后的未签名交易。
type EthereumSigner struct {
	signerURL   string
	wallet      common.Address
	chainID     *big.Int
	weiPerSat   *big.Int
	gasLimit    uint64
	fallbackTip *big.Int
	fallbackFee *big.Int
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	httpClient  *http.Client
}

// NewEthereumSigner 连接链上 RPC 节点并校验签名服务配置。
func NewEthereumSigner(ctx context.Context, cfg EthereumSignerConfig) (*EthereumSigner, error) {
	signerURL := strings.TrimSpace(cfg.SignerURL)
	if signerURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置托管签名服务地址")
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置以太坊 RPC 地址")
	}
	if !common.IsHexAddress(cfg.WalletAddress) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的托管钱包地址: "+cfg.WalletAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置链 ID")
	}

	weiPerSat, err := ParseWeiPerSat(cfg.WeiPerSat)
	if err != nil {
		return nil, err
	}

	fallbackTip, err := parseWeiAmount(cfg.PriorityFeePerGasWei, defaultPriorityFeeWei)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的 priority_fee_per_gas_wei: "+cfg.PriorityFeePerGasWei)
	}
	fallbackFee, err := parseWeiAmount(cfg.MaxFeePerGasWei, defaultMaxFeeWei)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的 max_fee_per_gas_wei: "+cfg.MaxFeePerGasWei)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 21000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &EthereumSigner{
		signerURL:   signerURL,
		wallet:      common.HexToAddress(cfg.WalletAddress),
		chainID:     big.NewInt(cfg.ChainID),
		weiPerSat:   weiPerSat,
		gasLimit:    gasLimit,
		fallbackTip: fallbackTip,
		fallbackFee: fallbackFee,
		rpcClient:   rpcClient,
		eth:         ethclient.NewClient(rpcClient),
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// parseWeiAmount 解析十进制 wei 金额，空串退回到缺省值。
func parseWeiAmount(raw, fallback string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid wei amount %q", raw)
	}
	return amount, nil
}

// SignAndSubmit 实现 Signer 接口。
func (s *EthereumSigner) SignAndSubmit(ctx context.Context, payment Payment) (string, error) {
	if !common.IsHexAddress(payment.Recipient) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "非法的收款地址: "+payment.Recipient)
	}
	if payment.AmountSats <= 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须为正数")
	}

	unsignedTx, err := s.buildTransaction(ctx, common.HexToAddress(payment.Recipient), SatsToWei(payment.AmountSats, s.weiPerSat))
	if err != nil {
		return "", err
	}

	signedHex, err := s.requestSignature(ctx, payment.IntentID, unsignedTx)
	if err != nil {
		return "", err
	}

	var txHash common.Hash
	if err := s.rpcClient.CallContext(ctx, &txHash, "eth_sendRawTransaction", signedHex); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "广播交易失败")
	}

	logger.Named("custody").Info("交易已广播",
		"intent_id", payment.IntentID,
		"txid", txHash.Hex(),
		"amount_sats", payment.AmountSats)
	return txHash.Hex(), nil
}

// buildTransaction 查询 nonce 与费率并拼装未签名的 EIP-1559 交易。
// nonce 必须来自链上；费率查询失败时退回到配置的兜底值。
func (s *EthereumSigner) buildTransaction(ctx context.Context, to common.Address, amountWei *big.Int) (*coretypes.Transaction, error) {
	nonce, err := s.eth.PendingNonceAt(ctx, s.wallet)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询 nonce 失败")
	}

	tipCap, err := s.eth.SuggestGasTipCap(ctx)
	if err != nil {
		logger.Named("custody").Warn("查询小费上限失败，使用配置兜底", "error", err)
		tipCap = nil
	}

	var baseFee *big.Int
	head, err := s.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		logger.Named("custody").Warn("查询最新区块头失败，使用配置兜底", "error", err)
	} else {
		// 未启用 EIP-1559 的链区块头没有 base fee。
		baseFee = head.BaseFee
	}

	tipCap, feeCap := resolveFeeCaps(tipCap, baseFee, s.fallbackTip, s.fallbackFee)

	return coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       s.gasLimit,
		To:        &to,
		Value:     amountWei,
	}), nil
}

// resolveFeeCaps 计算交易的小费与总费率上限。
// tipCap 或 baseFee 缺失时使用兜底值，并保证 feeCap 不低于 tipCap。
func resolveFeeCaps(tipCap, baseFee, fallbackTip, fallbackFee *big.Int) (*big.Int, *big.Int) {
	if tipCap == nil || tipCap.Sign() <= 0 {
		tipCap = new(big.Int).Set(fallbackTip)
	}

	var feeCap *big.Int
	if baseFee != nil && baseFee.Sign() > 0 {
		feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))
	} else {
		feeCap = new(big.Int).Set(fallbackFee)
	}
	if feeCap.Cmp(tipCap) < 0 {
		feeCap = new(big.Int).Set(tipCap)
	}
	return tipCap, feeCap
}

type signRequest struct {
	IntentID   string `json:"intent_id"`
	ChainID    int64  `json:"chain_id"`
	From       string `json:"from"`
	UnsignedTx string `json:"unsigned_tx"`
}

type signResponse struct {
	SignedTx string `json:"signed_tx"`
	Error    string `json:"error,omitempty"`
}

// requestSignature 将未签名交易提交给外部签名服务，返回签名后的原始交易。
func (s *EthereumSigner) requestSignature(ctx context.Context, intentID string, tx *coretypes.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "序列化交易失败")
	}

	payload, err := json.Marshal(signRequest{
		IntentID:   intentID,
		ChainID:    s.chainID.Int64(),
		From:       s.wallet.Hex(),
		UnsignedTx: "0x" + hex.EncodeToString(raw),
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "编码签名请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.signerURL, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "构建签名请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求托管签名服务失败")
	}
	defer resp.Body.Close()

	var decoded signResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析签名响应失败")
	}
	if resp.StatusCode >= http.StatusBadRequest || decoded.Error != "" {
		message := decoded.Error
		if message == "" {
			message = fmt.Sprintf("签名服务返回状态 %d", resp.StatusCode)
		}
		return "", xerrors.New(xerrors.CodeUpstreamFailure, "托管签名失败: "+message)
	}
	if !strings.HasPrefix(decoded.SignedTx, "0x") {
		return "", xerrors.New(xerrors.CodeUpstreamFailure, "签名服务返回非法交易编码")
	}
	return decoded.SignedTx, nil
}

// Close 释放链上连接。
func (s *EthereumSigner) Close() error {
	if s == nil {
		return nil
	}
	if s.eth != nil {
		s.eth.Close()
	}
	if s.rpcClient != nil {
		s.rpcClient.Close()
	}
	return nil
}

var _ Signer = (*EthereumSigner)(nil)
