package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonsMatchTheirKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   error
		label  string
		reason string
	}{
		{name: "lead unresolved", err: ErrLeadUnresolved, kind: ErrNotFound, label: "NotFoundError", reason: "LeadUnresolved"},
		{name: "order not found", err: ErrOrderNotFound, kind: ErrNotFound, label: "NotFoundError", reason: "OrderNotFound"},
		{name: "order not open", err: ErrOrderNotOpen, kind: ErrExpired, label: "ExpiredError", reason: "OrderNotOpen"},
		{name: "duplicate", err: ErrDuplicateAssignment, kind: ErrConflict, label: "ConflictError", reason: "DuplicateAssignment"},
		{name: "quota", err: ErrQuotaExceeded, kind: ErrConflict, label: "ConflictError", reason: "QuotaExceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("assign order o-1: %w", tt.err)

			assert.ErrorIs(t, wrapped, tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.Equal(t, tt.label, Kind(wrapped))
			assert.Equal(t, tt.reason, ReasonCode(wrapped))
		})
	}
}

func TestValidationAndTransient(t *testing.T) {
	v := Validation("state %q is not a jurisdiction code", "Texas")
	assert.ErrorIs(t, v, ErrValidation)
	assert.Equal(t, "ValidationError", Kind(v))
	assert.Empty(t, ReasonCode(v))

	tr := Transient("load order", context.DeadlineExceeded)
	assert.ErrorIs(t, tr, ErrTransient)
	assert.ErrorIs(t, tr, context.DeadlineExceeded)
	assert.Equal(t, "TransientError", Kind(tr))

	assert.Equal(t, "InternalError", Kind(errors.New("boom")))
	assert.Empty(t, Kind(nil))
}
