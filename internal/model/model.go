// Package model содержит доменные сущности сервиса распределения лидов по заявкам.
package model

import (
	"strings"
	"time"
)

// OrderStatus описывает статус заявки на лиды.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusExpired
}

// Order описывает заявку адвоката на получение лидов.
type Order struct {
	ID           string
	AttorneyID   string
	TargetStates []string
	CaseType     string
	CaseSubtype  string
	QuotaTotal   int
	QuotaFilled  int
	Status       OrderStatus
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Remaining возвращает количество свободных мест в заявке.
func (o Order) Remaining() int {
	r := o.QuotaTotal - o.QuotaFilled
	if r < 0 {
		return 0
	}
	return r
}

// AcceptsState проверяет, входит ли штат в список целевых штатов заявки.
// Сравнение регистронезависимое.
func (o Order) AcceptsState(state string) bool {
	for _, s := range o.TargetStates {
		if strings.EqualFold(s, state) {
			return true
		}
	}
	return false
}

// OrderDraft содержит параметры создания новой заявки.
type OrderDraft struct {
	ID           string
	AttorneyID   string
	TargetStates []string
	CaseType     string
	CaseSubtype  string
	QuotaTotal   int
	ExpiresAt    time.Time
}

// LeadDescriptor описывает лид, для которого подбираются заявки. Не сохраняется.
type LeadDescriptor struct {
	SubmissionID string
	LeadID       string
	State        string
	CaseType     string
	CaseSubtype  string
	// Attributes содержит дополнительные признаки лида (insured, priorAttorneyInvolved и т.п.).
	Attributes map[string]string
}

// Assignment описывает факт закрепления лида за заявкой.
type Assignment struct {
	ID           string
	OrderID      string
	LeadID       string
	AgentID      string
	SubmissionID string
	AssignedAt   time.Time
}

// AssignmentResult возвращается при успешном закреплении лида.
type AssignmentResult struct {
	OrderID    string
	LeadID     string
	AssignedAt time.Time
}

// Recommendation описывает подходящую заявку для лида с оценкой соответствия.
type Recommendation struct {
	OrderID     string
	AttorneyID  string
	ExpiresAt   time.Time
	QuotaTotal  int
	QuotaFilled int
	Remaining   int
	Score       float64
	Reasons     []string
}
