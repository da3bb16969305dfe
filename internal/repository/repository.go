// Package repository содержит реализации хранилища заявок и журнала закреплений.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/leadmatch/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// goose хранит диалект и файловую систему в глобальном состоянии.
var migrateMu sync.Mutex

// OrderTx описывает операции, доступные внутри транзакции закрепления лида.
// Все изменения quota_filled и status выполняются только через OrderTx.
type OrderTx interface {
	// LockOrder читает заявку, захватывая блокировку на запись до конца транзакции.
	LockOrder(ctx context.Context, id string) (*model.Order, error)
	AssignmentExists(ctx context.Context, orderID, leadID string) (bool, error)
	// InsertAssignment возвращает apperr.ErrDuplicateAssignment при нарушении уникальности (order_id, lead_id).
	InsertAssignment(ctx context.Context, a model.Assignment) error
	// IncrementFilled увеличивает quota_filled на единицу и выставляет FULFILLED при достижении квоты.
	// Обновляется только заявка в статусе OPEN. Возвращает apperr.ErrQuotaExceeded,
	// если свободных мест не осталось или заявка уже не OPEN.
	IncrementFilled(ctx context.Context, orderID string) (int, model.OrderStatus, error)
}

func runMigrations(ctx context.Context, db *sql.DB, dialect, dir string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// NormalizeStates приводит коды штатов к верхнему регистру и убирает дубликаты, сохраняя порядок.
func NormalizeStates(states []string) []string {
	seen := make(map[string]struct{}, len(states))
	out := make([]string, 0, len(states))
	for _, s := range states {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func micros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
