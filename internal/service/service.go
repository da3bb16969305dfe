// Package service реализует подбор заявок для лидов и атомарное закрепление лидов за заявками.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/leadmatch/internal/apperr"
	"github.com/mmeshcher/leadmatch/internal/expiry"
	"github.com/mmeshcher/leadmatch/internal/model"
	"github.com/mmeshcher/leadmatch/internal/recommend"
	"github.com/mmeshcher/leadmatch/internal/repository"
	"github.com/mmeshcher/leadmatch/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListCandidateOrders(ctx context.Context, state, caseType string, now time.Time) ([]model.Order, error)
	AssignedOrderIDs(ctx context.Context, leadID string) ([]string, error)
	ListAssignments(ctx context.Context, orderID string) ([]model.Assignment, error)
	ExpireStaleOrders(ctx context.Context, now time.Time) (int64, error)
	InOrderTx(ctx context.Context, fn func(ctx context.Context, tx repository.OrderTx) error) error
}

// LeadDirectory сопоставляет заявку с формы и лид. Результат не кэшируется.
type LeadDirectory interface {
	ResolveLead(ctx context.Context, submissionID string) (string, error)
}

// Clock предоставляет текущее время; подменяется в тестах.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// Service содержит логику подбора и закрепления. Состояния между вызовами не хранит.
type Service struct {
	repo   Repository
	leads  LeadDirectory
	logger *zap.Logger
	clock  Clock
}

// NewService создаёт сервис поверх хранилища и справочника лидов.
// Пустые logger и clock заменяются на zap.NewNop и системное время.
func NewService(repo Repository, leads LeadDirectory, logger *zap.Logger, clock Clock) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{
		repo:   repo,
		leads:  leads,
		logger: logger,
		clock:  clock,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Recommend возвращает до limit подходящих заявок для лида, упорядоченных по оценке.
// При ошибке возвращается пустой список вместе с ошибкой.
func (s *Service) Recommend(ctx context.Context, lead model.LeadDescriptor, limit int) ([]model.Recommendation, error) {
	empty := []model.Recommendation{}

	if err := validation.Lead(lead); err != nil {
		return empty, err
	}

	now := s.clock.Now()

	orders, err := s.repo.ListCandidateOrders(ctx, lead.State, lead.CaseType, now)
	if err != nil {
		return empty, fmt.Errorf("list candidate orders: %w", err)
	}

	exclude, err := s.assignedOrders(ctx, lead)
	if err != nil {
		return empty, err
	}

	return recommend.Rank(recommend.Input{
		Lead:    lead,
		Orders:  orders,
		Now:     now,
		Limit:   limit,
		Exclude: exclude,
	}), nil
}

// assignedOrders возвращает заявки, за которыми лид уже закреплён.
// Если лид не удаётся определить, исключений нет.
func (s *Service) assignedOrders(ctx context.Context, lead model.LeadDescriptor) (map[string]struct{}, error) {
	leadID := lead.LeadID
	if leadID == "" && lead.SubmissionID != "" && s.leads != nil {
		resolved, err := s.leads.ResolveLead(ctx, lead.SubmissionID)
		switch {
		case err == nil:
			leadID = resolved
		case errors.Is(err, apperr.ErrLeadUnresolved):
			return nil, nil
		default:
			s.logger.Warn("lead resolution failed, recommending without exclusions",
				zap.String("submissionID", lead.SubmissionID), zap.Error(err))
			return nil, nil
		}
	}
	if leadID == "" {
		return nil, nil
	}

	ids, err := s.repo.AssignedOrderIDs(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("list lead assignments: %w", err)
	}

	exclude := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		exclude[id] = struct{}{}
	}
	return exclude, nil
}

// Assign атомарно закрепляет лид заявки с формы submissionID за заявкой orderID.
// Повтор с теми же параметрами безопасен: второй успешной записи не будет.
// При конкуренции за последнее место выигрывает транзакция, зафиксированная первой.
func (s *Service) Assign(ctx context.Context, orderID, submissionID, agentID string) (*model.AssignmentResult, error) {
	if err := validation.Assignment(orderID, submissionID, agentID); err != nil {
		return nil, err
	}

	leadID, err := s.leads.ResolveLead(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("resolve submission %s: %w", submissionID, err)
	}

	now := s.clock.Now()
	assignment := model.Assignment{
		ID:           uuid.NewString(),
		OrderID:      orderID,
		LeadID:       leadID,
		AgentID:      agentID,
		SubmissionID: submissionID,
		AssignedAt:   now,
	}

	var (
		filled int
		status model.OrderStatus
	)
	err = s.checkOpen(ctx, orderID, now)
	if err == nil {
		err = s.repo.InOrderTx(ctx, func(ctx context.Context, tx repository.OrderTx) error {
			return s.assignLocked(ctx, tx, assignment, &filled, &status)
		})
	}
	if err != nil {
		s.logAssignFailure(orderID, leadID, agentID, err)
		return nil, fmt.Errorf("assign lead %s to order %s: %w", leadID, orderID, err)
	}

	s.logger.Info("lead assigned",
		zap.String("orderID", orderID),
		zap.String("leadID", leadID),
		zap.String("agentID", agentID),
		zap.Int("quotaFilled", filled),
		zap.String("status", string(status)),
	)

	return &model.AssignmentResult{
		OrderID:    orderID,
		LeadID:     leadID,
		AssignedAt: now,
	}, nil
}

// checkOpen проверяет фактический статус заявки до начала транзакции.
// Срок и квота перепроверяются под блокировкой в assignLocked.
func (s *Service) checkOpen(ctx context.Context, orderID string, now time.Time) error {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if st := expiry.EffectiveStatus(*o, now); st != model.OrderStatusOpen {
		return fmt.Errorf("%w: effective status %s", apperr.ErrOrderNotOpen, st)
	}
	return nil
}

func (s *Service) assignLocked(ctx context.Context, tx repository.OrderTx, a model.Assignment, filled *int, status *model.OrderStatus) error {
	locked, err := tx.LockOrder(ctx, a.OrderID)
	if err != nil {
		return err
	}

	// Пока ждали блокировку, заявку могла закрыть фоновая проверка сроков.
	if locked.Status == model.OrderStatusExpired || !locked.ExpiresAt.After(a.AssignedAt) {
		return fmt.Errorf("%w: status %s", apperr.ErrOrderNotOpen, model.OrderStatusExpired)
	}

	exists, err := tx.AssignmentExists(ctx, a.OrderID, a.LeadID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.ErrDuplicateAssignment
	}

	// Заполненная за время ожидания заявка означает проигрыш гонки за последнее место.
	if locked.QuotaFilled >= locked.QuotaTotal {
		return apperr.ErrQuotaExceeded
	}

	if err := tx.InsertAssignment(ctx, a); err != nil {
		return err
	}

	*filled, *status, err = tx.IncrementFilled(ctx, a.OrderID)
	return err
}

func (s *Service) logAssignFailure(orderID, leadID, agentID string, err error) {
	fields := []zap.Field{
		zap.String("orderID", orderID),
		zap.String("leadID", leadID),
		zap.String("agentID", agentID),
		zap.String("reason", apperr.ReasonCode(err)),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrExpired), errors.Is(err, apperr.ErrNotFound):
		s.logger.Warn("lead assignment rejected", fields...)
	default:
		s.logger.Error("lead assignment failed", fields...)
	}
}

// CreateOrder создаёт новую открытую заявку. Пустой идентификатор заменяется сгенерированным.
func (s *Service) CreateOrder(ctx context.Context, d model.OrderDraft) (*model.Order, error) {
	now := s.clock.Now()
	if err := validation.OrderDraft(d, now); err != nil {
		return nil, err
	}

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}

	o := model.Order{
		ID:           id,
		AttorneyID:   d.AttorneyID,
		TargetStates: repository.NormalizeStates(d.TargetStates),
		CaseType:     d.CaseType,
		CaseSubtype:  d.CaseSubtype,
		QuotaTotal:   d.QuotaTotal,
		QuotaFilled:  0,
		Status:       model.OrderStatusOpen,
		ExpiresAt:    d.ExpiresAt.UTC().Truncate(time.Microsecond),
		CreatedAt:    now,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("orderID", o.ID),
		zap.String("attorneyID", o.AttorneyID),
		zap.Int("quotaTotal", o.QuotaTotal),
		zap.Time("expiresAt", o.ExpiresAt),
	)

	return &o, nil
}

// GetOrder возвращает заявку и её фактический статус на текущий момент.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, model.OrderStatus, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return o, expiry.EffectiveStatus(*o, s.clock.Now()), nil
}

// ListAssignments возвращает журнал закреплений по заявке.
func (s *Service) ListAssignments(ctx context.Context, orderID string) ([]model.Assignment, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, orderID)
}

// SweepExpired сохраняет статус EXPIRED для просроченных открытых заявок.
// Операция идемпотентна; корректность подбора от неё не зависит.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStaleOrders(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire stale orders: %w", err)
	}
	return n, nil
}

// StartExpirySweep периодически запускает SweepExpired до отмены ctx.
// При interval <= 0 сразу возвращается.
func (s *Service) StartExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired stale orders", zap.Int64("count", n))
			}
		}
	}
}
