package intent

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "TicketChain/internal/errors"
)

// MySQLStore 使用 MySQL 持久化支付意向。
// CAS 通过带状态条件的 UPDATE 实现，由数据库保证原子性。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "应用数据库迁移失败")
	}
	return store, nil
}

// Create 插入新的支付意向。
func (s *MySQLStore) Create(ctx context.Context, in *PaymentIntent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent 不能为空")
	}
	if strings.TrimSpace(in.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意向 ID 不能为空")
	}
	if !IsValidStatus(in.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的意向状态")
	}

	now := time.Now().Unix()
	if in.CreatedAt == 0 {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	const stmt = `INSERT INTO payment_intents
        (id, event_id, reservation_id, ticket_id, quantity, buyer_contact, amount_usd, amount_ledger_units,
         currency, pay_to_address, status, confirmed_tx_hash, confirmations, created_at, expires_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		in.ID,
		in.EventID,
		in.ReservationID,
		in.TicketID,
		in.Quantity,
		in.BuyerContact,
		in.AmountUSD,
		in.AmountLedgerUnits,
		in.Currency,
		in.PayToAddress,
		in.Status,
		in.CreatedAt,
		in.ExpiresAt,
		in.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrIntentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入支付意向失败")
	}
	return nil
}

// Get 查询指定支付意向。
func (s *MySQLStore) Get(ctx context.Context, id string) (*PaymentIntent, error) {
	const stmt = `SELECT id, event_id, reservation_id, ticket_id, quantity, buyer_contact, amount_usd,
        amount_ledger_units, currency, pay_to_address, status, confirmed_tx_hash, confirmations,
        created_at, expires_at, updated_at
        FROM payment_intents WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	in, err := scanIntent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付意向失败")
	}
	return in, nil
}

// CompareAndSetStatus 通过条件 UPDATE 完成原子状态转换。
func (s *MySQLStore) CompareAndSetStatus(ctx context.Context, id string, expect, next Status) (bool, error) {
	if !IsValidStatus(expect) || !IsValidStatus(next) {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "不支持的意向状态")
	}

	const stmt = `UPDATE payment_intents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, next, time.Now().Unix(), id, expect)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新意向状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected > 0 {
		return true, nil
	}

	// CAS 失利：区分"意向不存在"与"状态不匹配"。
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkSettled 记录结算凭据。
func (s *MySQLStore) MarkSettled(ctx context.Context, id, txHash string, confirmations int64) error {
	const stmt = `UPDATE payment_intents SET confirmed_tx_hash = ?, confirmations = ?, updated_at = ?
        WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, txHash, confirmations, time.Now().Unix(), id, StatusCompleted)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录结算凭据失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return xerrors.New(xerrors.CodeConflict, "意向尚未完成，不能记录结算凭据")
	}
	return nil
}

// ListByStatus 返回指定状态的意向，按创建时间升序。
func (s *MySQLStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	const stmt = `SELECT id, event_id, reservation_id, ticket_id, quantity, buyer_contact, amount_usd,
        amount_ledger_units, currency, pay_to_address, status, confirmed_tx_hash, confirmations,
        created_at, expires_at, updated_at
        FROM payment_intents WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, status, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付意向列表失败")
	}
	defer rows.Close()

	var results []*PaymentIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付意向失败")
		}
		results = append(results, in)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付意向失败")
	}
	return results, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*PaymentIntent, error) {
	var in PaymentIntent
	if err := row.Scan(
		&in.ID,
		&in.EventID,
		&in.ReservationID,
		&in.TicketID,
		&in.Quantity,
		&in.BuyerContact,
		&in.AmountUSD,
		&in.AmountLedgerUnits,
		&in.Currency,
		&in.PayToAddress,
		&in.Status,
		&in.ConfirmedTxHash,
		&in.Confirmations,
		&in.CreatedAt,
		&in.ExpiresAt,
		&in.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &in, nil
}

var _ Store = (*MySQLStore)(nil)
