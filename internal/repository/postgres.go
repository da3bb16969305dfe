package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mmeshcher/leadmatch/internal/apperr"
	"github.com/mmeshcher/leadmatch/internal/model"
)

const orderColumns = `id, attorney_id, target_states, case_type, case_subtype,
	quota_total, quota_filled, status, expires_at, created_at`

// PostgresRepository предоставляет доступ к хранилищу заявок в PostgreSQL.
// Конкурентные закрепления одной заявки сериализуются блокировкой её строки.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := withRetry(ctx, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := runMigrations(ctx, db, "postgres", "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

// withRetry повторяет fn при временных ошибках. Используется только при подключении:
// операции с заявками не повторяются автоматически.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isTransientPg(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isTransientPg(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.LockNotAvailable ||
			pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	return pgconn.SafeToRetry(err) || isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// pgFail оборачивает ошибку драйвера, помечая временные сбои как apperr.ErrTransient.
func pgFail(op string, err error) error {
	if isTransientPg(err) {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новую заявку.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.AttorneyID, NormalizeStates(o.TargetStates), o.CaseType, o.CaseSubtype,
		o.QuotaTotal, o.QuotaFilled, string(o.Status), o.ExpiresAt, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("order %s: %w", o.ID, apperr.ErrOrderExists)
		}
		return pgFail("insert order", err)
	}
	return nil
}

// GetOrder возвращает заявку по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getPgOrder(ctx, r.pool, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// ListCandidateOrders возвращает открытые заявки, принимающие указанный штат и тип дела.
// Окончательный отбор выполняет вызывающая сторона по фактическому статусу.
func (r *PostgresRepository) ListCandidateOrders(ctx context.Context, state, caseType string, now time.Time) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1
		   AND quota_filled < quota_total
		   AND expires_at > $2
		   AND upper($3) = ANY (target_states)
		   AND upper(case_type) = upper($4)
		 ORDER BY expires_at, id`,
		string(model.OrderStatusOpen), now, state, caseType,
	)
	if err != nil {
		return nil, pgFail("select candidate orders", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanPgOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, pgFail("rows error", err)
	}

	return orders, nil
}

// AssignedOrderIDs возвращает идентификаторы заявок, за которыми уже закреплён лид.
func (r *PostgresRepository) AssignedOrderIDs(ctx context.Context, leadID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT order_id FROM assignments WHERE lead_id = $1`, leadID)
	if err != nil {
		return nil, pgFail("select lead assignments", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, pgFail("collect lead assignments", err)
	}
	return ids, nil
}

// ListAssignments возвращает журнал закреплений по заявке.
func (r *PostgresRepository) ListAssignments(ctx context.Context, orderID string) ([]model.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, order_id, lead_id, agent_id, submission_id, assigned_at
		 FROM assignments
		 WHERE order_id = $1
		 ORDER BY assigned_at, id`,
		orderID,
	)
	if err != nil {
		return nil, pgFail("select assignments", err)
	}
	defer rows.Close()

	var res []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.OrderID, &a.LeadID, &a.AgentID, &a.SubmissionID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.AssignedAt = a.AssignedAt.UTC()
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, pgFail("rows error", err)
	}

	return res, nil
}

// ExpireStaleOrders переводит просроченные незаполненные заявки в статус EXPIRED.
func (r *PostgresRepository) ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $1
		 WHERE status = $2 AND quota_filled < quota_total AND expires_at <= $3`,
		string(model.OrderStatusExpired), string(model.OrderStatusOpen), now,
	)
	if err != nil {
		return 0, pgFail("expire orders", err)
	}
	return tag.RowsAffected(), nil
}

// ResolveLead возвращает идентификатор лида по идентификатору заявки с формы.
func (r *PostgresRepository) ResolveLead(ctx context.Context, submissionID string) (string, error) {
	var leadID string
	err := r.pool.QueryRow(ctx,
		`SELECT lead_id FROM leads WHERE submission_id = $1`,
		submissionID,
	).Scan(&leadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.ErrLeadUnresolved
		}
		return "", pgFail("resolve lead", err)
	}
	return leadID, nil
}

// UpsertLead сохраняет соответствие заявки с формы и лида.
func (r *PostgresRepository) UpsertLead(ctx context.Context, submissionID, leadID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO leads (submission_id, lead_id) VALUES ($1, $2)
		 ON CONFLICT (submission_id) DO UPDATE SET lead_id = EXCLUDED.lead_id`,
		submissionID, leadID,
	)
	if err != nil {
		return pgFail("upsert lead", err)
	}
	return nil
}

// InOrderTx выполняет fn в одной транзакции. Изменения фиксируются, только если fn вернула nil.
func (r *PostgresRepository) InOrderTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pgFail("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgOrderTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return pgFail("commit tx", err)
	}

	return nil
}

type pgOrderTx struct {
	tx pgx.Tx
}

func (t *pgOrderTx) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	return getPgOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgOrderTx) AssignmentExists(ctx context.Context, orderID, leadID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM assignments WHERE order_id = $1 AND lead_id = $2)`,
		orderID, leadID,
	).Scan(&exists)
	if err != nil {
		return false, pgFail("check assignment", err)
	}
	return exists, nil
}

func (t *pgOrderTx) InsertAssignment(ctx context.Context, a model.Assignment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO assignments (id, order_id, lead_id, agent_id, submission_id, assigned_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.OrderID, a.LeadID, a.AgentID, a.SubmissionID, a.AssignedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperr.ErrDuplicateAssignment
		}
		return pgFail("insert assignment", err)
	}
	return nil
}

func (t *pgOrderTx) IncrementFilled(ctx context.Context, orderID string) (int, model.OrderStatus, error) {
	var (
		filled int
		status string
	)
	err := t.tx.QueryRow(ctx,
		`UPDATE orders
		 SET quota_filled = quota_filled + 1,
		     status = CASE WHEN quota_filled + 1 = quota_total THEN $2 ELSE status END
		 WHERE id = $1 AND status = $3 AND quota_filled < quota_total
		 RETURNING quota_filled, status`,
		orderID, string(model.OrderStatusFulfilled), string(model.OrderStatusOpen),
	).Scan(&filled, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", apperr.ErrQuotaExceeded
		}
		return 0, "", pgFail("increment quota", err)
	}
	return filled, model.OrderStatus(status), nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPgOrder(ctx context.Context, q pgQuerier, query, id string) (*model.Order, error) {
	o, err := scanPgOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, pgFail("get order", err)
	}
	return o, nil
}

func scanPgOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.AttorneyID, &o.TargetStates, &o.CaseType, &o.CaseSubtype,
		&o.QuotaTotal, &o.QuotaFilled, &status, &o.ExpiresAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.ExpiresAt = o.ExpiresAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}
