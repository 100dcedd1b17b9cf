package intent

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "AgentPay-Guard/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStoreConfig 控制连接池参数。
type MySQLStoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 持久化支付意图。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore 并初始化表结构。
func NewMySQLStore(cfg MySQLStoreConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS payment_intents (
        id VARCHAR(64) PRIMARY KEY,
        principal_id VARCHAR(128) NOT NULL,
        wallet_id VARCHAR(128) DEFAULT '',
        recipient_id VARCHAR(128) NOT NULL,
        amount_sats BIGINT NOT NULL,
        note TEXT,
        status VARCHAR(16) NOT NULL,
        claimed TINYINT(1) NOT NULL DEFAULT 0,
        txid VARCHAR(128) DEFAULT '',
        failure_reason TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        executed_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_intent_principal (principal_id),
        INDEX idx_intent_status (status),
        INDEX idx_intent_created (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 payment_intents 表失败")
	}
	return nil
}

// Create 插入新的支付意图。
func (s *MySQLStore) Create(ctx context.Context, in *PaymentIntent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付意图不能为空")
	}
	if strings.TrimSpace(in.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付意图 ID 不能为空")
	}

	now := time.Now().Unix()
	in.CreatedAt = now
	in.UpdatedAt = now

	const stmt = `INSERT INTO payment_intents
        (id, principal_id, wallet_id, recipient_id, amount_sats, note, status, claimed, txid, failure_reason, created_at, updated_at, executed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', '', ?, ?, 0)`

	_, err := s.db.ExecContext(ctx, stmt,
		in.ID,
		in.PrincipalID,
		in.WalletID,
		in.RecipientID,
		in.AmountSats,
		in.Note,
		in.Status,
		in.CreatedAt,
		in.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "支付意图 ID 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入支付意图失败")
	}
	return nil
}

const selectColumns = `id, principal_id, wallet_id, recipient_id, amount_sats, note, status, txid, failure_reason, created_at, updated_at, executed_at`

func scanIntent(scanner interface{ Scan(...any) error }) (*PaymentIntent, error) {
	var in PaymentIntent
	var wallet, note, txid, reason sql.NullString
	if err := scanner.Scan(
		&in.ID,
		&in.PrincipalID,
		&wallet,
		&in.RecipientID,
		&in.AmountSats,
		&note,
		&in.Status,
		&txid,
		&reason,
		&in.CreatedAt,
		&in.UpdatedAt,
		&in.ExecutedAt,
	); err != nil {
		return nil, err
	}
	in.WalletID = wallet.String
	in.Note = note.String
	in.TxID = txid.String
	in.FailureReason = reason.String
	return &in, nil
}

// Get 查询指定支付意图。
func (s *MySQLStore) Get(ctx context.Context, id string) (*PaymentIntent, error) {
	const stmt = `SELECT ` + selectColumns + ` FROM payment_intents WHERE id = ?`

	in, err := scanIntent(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付意图失败")
	}
	return in, nil
}

// List 返回某委托主体最近的支付意图。
func (s *MySQLStore) List(ctx context.Context, principalID string, limit int) ([]*PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + selectColumns + ` FROM payment_intents`
	args := make([]any, 0, 2)
	if principalID != "" {
		query += ` WHERE principal_id = ?`
		args = append(args, principalID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return s.queryIntents(ctx, query, args...)
}

// ListPending 返回某委托主体尚未终结的支付意图，排序与 List 一致。
func (s *MySQLStore) ListPending(ctx context.Context, principalID string) ([]*PaymentIntent, error) {
	query := `SELECT ` + selectColumns + ` FROM payment_intents WHERE status = ?`
	args := []any{StatusPending}
	if principalID != "" {
		query += ` AND principal_id = ?`
		args = append(args, principalID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	return s.queryIntents(ctx, query, args...)
}

func (s *MySQLStore) queryIntents(ctx context.Context, query string, args ...any) ([]*PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付意图列表失败")
	}
	defer rows.Close()

	intents := make([]*PaymentIntent, 0)
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付意图记录失败")
		}
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付意图失败")
	}
	return intents, nil
}

// Claim 通过条件更新抢占一笔待批准的意图，保证并发批准只有一个赢家。
func (s *MySQLStore) Claim(ctx context.Context, principalID, id string) (*PaymentIntent, error) {
	const updateStmt = `UPDATE payment_intents SET claimed = 1, updated_at = ?
        WHERE id = ? AND principal_id = ? AND status = ? AND claimed = 0`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt, now, id, principalID, StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "抢占支付意图失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		in, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if in.PrincipalID != principalID {
			return nil, ErrIntentForbidden
		}
		return in, ErrIntentFinalized
	}
	return s.Get(ctx, id)
}

// MarkExecuted 记录执行成功的交易哈希。
func (s *MySQLStore) MarkExecuted(ctx context.Context, id, txid string) error {
	const stmt = `UPDATE payment_intents SET status = ?, txid = ?, failure_reason = '', updated_at = ?, executed_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt, StatusExecuted, txid, now, now, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记支付意图执行成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// MarkRejected 记录拒绝原因。
func (s *MySQLStore) MarkRejected(ctx context.Context, id, reason string) error {
	const stmt = `UPDATE payment_intents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, StatusRejected, reason, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记支付意图拒绝失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
