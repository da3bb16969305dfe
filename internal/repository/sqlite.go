package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmeshcher/leadmatch/internal/apperr"
	"github.com/mmeshcher/leadmatch/internal/model"
)

const sqliteOrderColumns = `id, attorney_id, target_states, case_type, case_subtype,
	quota_total, quota_filled, status, expires_at, created_at`

// SQLiteRepository хранит заявки в файле SQLite. Подходит для одного узла:
// каждая транзакция закрепления открывается через BEGIN IMMEDIATE и держит блокировку записи на всю БД.
// Поэтому закрепления по разным заявкам здесь выполняются строго по очереди;
// независимость заявок друг от друга обеспечивает только PostgresRepository с блокировкой строки.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает (или создаёт) БД по пути path и применяет миграции.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func isTransientSQLite(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return true
		}
	}
	return false
}

func isUniqueSQLite(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func sqliteFail(op string, err error) error {
	if isTransientSQLite(err) {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close закрывает соединение с БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateOrder сохраняет новую заявку.
func (r *SQLiteRepository) CreateOrder(ctx context.Context, o model.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (`+sqliteOrderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AttorneyID, joinStates(o.TargetStates), o.CaseType, o.CaseSubtype,
		o.QuotaTotal, o.QuotaFilled, string(o.Status), micros(o.ExpiresAt), micros(o.CreatedAt),
	)
	if err != nil {
		if isUniqueSQLite(err) {
			return fmt.Errorf("order %s: %w", o.ID, apperr.ErrOrderExists)
		}
		return sqliteFail("insert order", err)
	}
	return nil
}

// GetOrder возвращает заявку по идентификатору.
func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getSQLiteOrder(ctx, r.db, id)
}

// ListCandidateOrders возвращает открытые заявки, принимающие указанный штат и тип дела.
func (r *SQLiteRepository) ListCandidateOrders(ctx context.Context, state, caseType string, now time.Time) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+`
		 FROM orders
		 WHERE status = ?
		   AND quota_filled < quota_total
		   AND expires_at > ?
		   AND instr(target_states, ',' || upper(?) || ',') > 0
		   AND upper(case_type) = upper(?)
		 ORDER BY expires_at, id`,
		string(model.OrderStatusOpen), micros(now), state, caseType,
	)
	if err != nil {
		return nil, sqliteFail("select candidate orders", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, sqliteFail("rows error", err)
	}

	return orders, nil
}

// AssignedOrderIDs возвращает идентификаторы заявок, за которыми уже закреплён лид.
func (r *SQLiteRepository) AssignedOrderIDs(ctx context.Context, leadID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT order_id FROM assignments WHERE lead_id = ?`, leadID)
	if err != nil {
		return nil, sqliteFail("select lead assignments", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, sqliteFail("rows error", err)
	}

	return ids, nil
}

// ListAssignments возвращает журнал закреплений по заявке.
func (r *SQLiteRepository) ListAssignments(ctx context.Context, orderID string) ([]model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, lead_id, agent_id, submission_id, assigned_at
		 FROM assignments
		 WHERE order_id = ?
		 ORDER BY assigned_at, id`,
		orderID,
	)
	if err != nil {
		return nil, sqliteFail("select assignments", err)
	}
	defer rows.Close()

	var res []model.Assignment
	for rows.Next() {
		var (
			a          model.Assignment
			assignedAt int64
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &a.LeadID, &a.AgentID, &a.SubmissionID, &assignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.AssignedAt = fromMicros(assignedAt)
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, sqliteFail("rows error", err)
	}

	return res, nil
}

// ExpireStaleOrders переводит просроченные незаполненные заявки в статус EXPIRED.
func (r *SQLiteRepository) ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?
		 WHERE status = ? AND quota_filled < quota_total AND expires_at <= ?`,
		string(model.OrderStatusExpired), string(model.OrderStatusOpen), micros(now),
	)
	if err != nil {
		return 0, sqliteFail("expire orders", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ResolveLead возвращает идентификатор лида по идентификатору заявки с формы.
func (r *SQLiteRepository) ResolveLead(ctx context.Context, submissionID string) (string, error) {
	var leadID string
	err := r.db.QueryRowContext(ctx,
		`SELECT lead_id FROM leads WHERE submission_id = ?`,
		submissionID,
	).Scan(&leadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.ErrLeadUnresolved
		}
		return "", sqliteFail("resolve lead", err)
	}
	return leadID, nil
}

// UpsertLead сохраняет соответствие заявки с формы и лида.
func (r *SQLiteRepository) UpsertLead(ctx context.Context, submissionID, leadID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO leads (submission_id, lead_id) VALUES (?, ?)
		 ON CONFLICT (submission_id) DO UPDATE SET lead_id = excluded.lead_id`,
		submissionID, leadID,
	)
	if err != nil {
		return sqliteFail("upsert lead", err)
	}
	return nil
}

// InOrderTx выполняет fn в одной транзакции. Изменения фиксируются, только если fn вернула nil.
func (r *SQLiteRepository) InOrderTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteFail("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteOrderTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return sqliteFail("commit tx", err)
	}

	return nil
}

type sqliteOrderTx struct {
	tx *sql.Tx
}

// LockOrder перечитывает заявку: блокировка записи уже получена при BEGIN IMMEDIATE.
func (t *sqliteOrderTx) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	return getSQLiteOrder(ctx, t.tx, id)
}

func (t *sqliteOrderTx) AssignmentExists(ctx context.Context, orderID, leadID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM assignments WHERE order_id = ? AND lead_id = ?)`,
		orderID, leadID,
	).Scan(&exists)
	if err != nil {
		return false, sqliteFail("check assignment", err)
	}
	return exists, nil
}

func (t *sqliteOrderTx) InsertAssignment(ctx context.Context, a model.Assignment) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO assignments (id, order_id, lead_id, agent_id, submission_id, assigned_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrderID, a.LeadID, a.AgentID, a.SubmissionID, micros(a.AssignedAt),
	)
	if err != nil {
		if isUniqueSQLite(err) {
			return apperr.ErrDuplicateAssignment
		}
		return sqliteFail("insert assignment", err)
	}
	return nil
}

func (t *sqliteOrderTx) IncrementFilled(ctx context.Context, orderID string) (int, model.OrderStatus, error) {
	var (
		filled int
		status string
	)
	err := t.tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET quota_filled = quota_filled + 1,
		     status = CASE WHEN quota_filled + 1 = quota_total THEN ? ELSE status END
		 WHERE id = ? AND status = ? AND quota_filled < quota_total
		 RETURNING quota_filled, status`,
		string(model.OrderStatusFulfilled), orderID, string(model.OrderStatusOpen),
	).Scan(&filled, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", apperr.ErrQuotaExceeded
		}
		return 0, "", sqliteFail("increment quota", err)
	}
	return filled, model.OrderStatus(status), nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLiteOrder(ctx context.Context, q sqliteQuerier, id string) (*model.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanSQLiteOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, sqliteFail("get order", err)
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteOrder(row rowScanner) (*model.Order, error) {
	var (
		o         model.Order
		states    string
		status    string
		expiresAt int64
		createdAt int64
	)
	err := row.Scan(&o.ID, &o.AttorneyID, &states, &o.CaseType, &o.CaseSubtype,
		&o.QuotaTotal, &o.QuotaFilled, &status, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	o.TargetStates = splitStates(states)
	o.Status = model.OrderStatus(status)
	o.ExpiresAt = fromMicros(expiresAt)
	o.CreatedAt = fromMicros(createdAt)
	return &o, nil
}

func joinStates(states []string) string {
	return "," + strings.Join(NormalizeStates(states), ",") + ","
}

func splitStates(s string) []string {
	return NormalizeStates(strings.Split(strings.Trim(s, ","), ","))
}
