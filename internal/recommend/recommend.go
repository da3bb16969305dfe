// Package recommend отбирает и ранжирует заявки, подходящие для лида.
package recommend

import (
	"sort"
	"strings"
	"time"

	"github.com/mmeshcher/leadmatch/internal/expiry"
	"github.com/mmeshcher/leadmatch/internal/model"
)

// Веса слагаемых оценки.
const (
	WeightState       = 40.0
	WeightCaseType    = 30.0
	WeightCaseSubtype = 15.0
	WeightCapacity    = 10.0
	WeightUrgency     = 5.0
)

// UrgencyHorizon задаёт окно, в котором заявка получает бонус за близкий срок.
const UrgencyHorizon = 72 * time.Hour

// Пояснения к оценке. Каждое соответствует ровно одному сработавшему слагаемому.
const (
	ReasonStateMatch       = "state match"
	ReasonCaseTypeMatch    = "case type match"
	ReasonCaseSubtypeMatch = "case subtype match"
	ReasonLowQuotaPressure = "low quota pressure"
	ReasonExpiresSoon      = "expires soon"
)

// Ограничения на размер выдачи.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Input содержит данные для одного расчёта рекомендаций.
type Input struct {
	Lead   model.LeadDescriptor
	Orders []model.Order
	Now    time.Time
	Limit  int
	// Exclude содержит идентификаторы заявок, за которыми лид уже закреплён.
	Exclude map[string]struct{}
}

// Eligible проверяет, может ли заявка принять лид на момент now.
func Eligible(lead model.LeadDescriptor, o model.Order, now time.Time) bool {
	if !expiry.IsOpen(o, now) {
		return false
	}
	if !o.AcceptsState(lead.State) {
		return false
	}
	if !strings.EqualFold(lead.CaseType, o.CaseType) {
		return false
	}
	return o.Remaining() > 0
}

// Score вычисляет оценку соответствия заявки лиду и список сработавших пояснений.
// Предполагается, что заявка прошла Eligible.
func Score(lead model.LeadDescriptor, o model.Order, now time.Time) (float64, []string) {
	score := WeightState + WeightCaseType
	reasons := []string{ReasonStateMatch, ReasonCaseTypeMatch}

	if lead.CaseSubtype != "" && o.CaseSubtype != "" && strings.EqualFold(lead.CaseSubtype, o.CaseSubtype) {
		score += WeightCaseSubtype
		reasons = append(reasons, ReasonCaseSubtypeMatch)
	}

	if capacity := capacityBonus(o); capacity > 0 {
		score += capacity
		reasons = append(reasons, ReasonLowQuotaPressure)
	}

	if urgency := urgencyBonus(o, now); urgency > 0 {
		score += urgency
		reasons = append(reasons, ReasonExpiresSoon)
	}

	return score, reasons
}

func capacityBonus(o model.Order) float64 {
	if o.QuotaTotal <= 0 {
		return 0
	}
	return WeightCapacity * float64(o.Remaining()) / float64(o.QuotaTotal)
}

func urgencyBonus(o model.Order, now time.Time) float64 {
	hours := o.ExpiresAt.Sub(now).Hours()
	bonus := WeightUrgency * (1 - hours/UrgencyHorizon.Hours())
	if bonus < 0 {
		return 0
	}
	if bonus > WeightUrgency {
		return WeightUrgency
	}
	return bonus
}

// Rank отбирает подходящие заявки, оценивает их и возвращает не более Limit лучших.
// Порядок: оценка по убыванию, затем срок истечения по возрастанию, затем идентификатор.
func Rank(in Input) []model.Recommendation {
	res := make([]model.Recommendation, 0, len(in.Orders))
	for _, o := range in.Orders {
		if _, skip := in.Exclude[o.ID]; skip {
			continue
		}
		if !Eligible(in.Lead, o, in.Now) {
			continue
		}

		score, reasons := Score(in.Lead, o, in.Now)
		res = append(res, model.Recommendation{
			OrderID:     o.ID,
			AttorneyID:  o.AttorneyID,
			ExpiresAt:   o.ExpiresAt,
			QuotaTotal:  o.QuotaTotal,
			QuotaFilled: o.QuotaFilled,
			Remaining:   o.Remaining(),
			Score:       score,
			Reasons:     reasons,
		})
	}

	sort.SliceStable(res, func(i, j int) bool {
		return less(res[i], res[j])
	})

	limit := NormalizeLimit(in.Limit)
	if len(res) > limit {
		res = res[:limit]
	}
	return res
}

func less(a, b model.Recommendation) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return a.OrderID < b.OrderID
}

// NormalizeLimit приводит запрошенный размер выдачи к допустимому диапазону.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
