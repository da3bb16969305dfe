// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"time"

	"github.com/mmeshcher/leadmatch/internal/apperr"
	"github.com/mmeshcher/leadmatch/internal/model"
)

const maxIdentifierLen = 128

// IsJurisdictionCode проверяет, что строка является двухбуквенным кодом штата.
func IsJurisdictionCode(code string) bool {
	if len(code) != 2 {
		return false
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		if !(ch >= 'A' && ch <= 'Z') && !(ch >= 'a' && ch <= 'z') {
			return false
		}
	}

	return true
}

// IsIdentifier проверяет, что идентификатор непустой, без пробелов по краям и разумной длины.
func IsIdentifier(id string) bool {
	return id != "" && len(id) <= maxIdentifierLen && strings.TrimSpace(id) == id
}

// Lead проверяет описание лида, переданное для подбора заявок.
func Lead(l model.LeadDescriptor) error {
	if !IsJurisdictionCode(l.State) {
		return apperr.Validation("state %q is not a jurisdiction code", l.State)
	}
	if strings.TrimSpace(l.CaseType) == "" {
		return apperr.Validation("case type is required")
	}
	if l.SubmissionID == "" && l.LeadID == "" {
		return apperr.Validation("submission id or lead id is required")
	}
	if l.SubmissionID != "" && !IsIdentifier(l.SubmissionID) {
		return apperr.Validation("submission id %q is malformed", l.SubmissionID)
	}
	if l.LeadID != "" && !IsIdentifier(l.LeadID) {
		return apperr.Validation("lead id %q is malformed", l.LeadID)
	}
	return nil
}

// Assignment проверяет параметры запроса на закрепление лида.
func Assignment(orderID, submissionID, agentID string) error {
	switch {
	case !IsIdentifier(orderID):
		return apperr.Validation("order id %q is malformed", orderID)
	case !IsIdentifier(submissionID):
		return apperr.Validation("submission id %q is malformed", submissionID)
	case !IsIdentifier(agentID):
		return apperr.Validation("agent id %q is malformed", agentID)
	}
	return nil
}

// OrderDraft проверяет параметры новой заявки относительно момента создания now.
func OrderDraft(d model.OrderDraft, now time.Time) error {
	if d.ID != "" && !IsIdentifier(d.ID) {
		return apperr.Validation("order id %q is malformed", d.ID)
	}
	if !IsIdentifier(d.AttorneyID) {
		return apperr.Validation("attorney id %q is malformed", d.AttorneyID)
	}
	if len(d.TargetStates) == 0 {
		return apperr.Validation("at least one target state is required")
	}
	for _, s := range d.TargetStates {
		if !IsJurisdictionCode(strings.TrimSpace(s)) {
			return apperr.Validation("target state %q is not a jurisdiction code", s)
		}
	}
	if strings.TrimSpace(d.CaseType) == "" {
		return apperr.Validation("case type is required")
	}
	if d.QuotaTotal <= 0 {
		return apperr.Validation("quota total must be positive, got %d", d.QuotaTotal)
	}
	if !d.ExpiresAt.After(now) {
		return apperr.Validation("expiry %s must be in the future", d.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
