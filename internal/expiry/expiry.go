// Package expiry вычисляет фактический статус заявки по её полям и текущему времени.
package expiry

import (
	"time"

	"github.com/mmeshcher/leadmatch/internal/model"
)

// EffectiveStatus возвращает фактический статус заявки на момент now.
// Заполненная заявка остаётся FULFILLED и после истечения срока.
// Сохранённое поле Status не учитывается: это лишь кэш результата этой функции.
func EffectiveStatus(o model.Order, now time.Time) model.OrderStatus {
	if o.QuotaFilled >= o.QuotaTotal {
		return model.OrderStatusFulfilled
	}
	if !now.Before(o.ExpiresAt) {
		return model.OrderStatusExpired
	}
	return model.OrderStatusOpen
}

// IsOpen сообщает, принимает ли заявка новые лиды на момент now.
func IsOpen(o model.Order, now time.Time) bool {
	return EffectiveStatus(o, now) == model.OrderStatusOpen
}
