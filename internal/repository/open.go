package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmeshcher/leadmatch/internal/model"
)

// Store объединяет операции, которые предоставляет любая реализация хранилища.
type Store interface {
	Close() error
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListCandidateOrders(ctx context.Context, state, caseType string, now time.Time) ([]model.Order, error)
	AssignedOrderIDs(ctx context.Context, leadID string) ([]string, error)
	ListAssignments(ctx context.Context, orderID string) ([]model.Assignment, error)
	ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error)
	ResolveLead(ctx context.Context, submissionID string) (string, error)
	UpsertLead(ctx context.Context, submissionID, leadID string) error
	InOrderTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}

var (
	_ Store = (*PostgresRepository)(nil)
	_ Store = (*SQLiteRepository)(nil)
)

// ErrEmptyDSN возвращается, если адрес хранилища не задан.
var ErrEmptyDSN = errors.New("database uri is empty")

// Open выбирает реализацию хранилища по схеме адреса:
// sqlite://path и file:path открывают SQLite, остальные адреса передаются в PostgreSQL.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, ErrEmptyDSN
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteRepository(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return NewSQLiteRepository(strings.TrimPrefix(dsn, "file:"))
	default:
		return NewPostgresRepository(dsn)
	}
}
