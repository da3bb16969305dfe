package recommend

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/leadmatch/internal/expiry"
	"github.com/mmeshcher/leadmatch/internal/model"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func txLead() model.LeadDescriptor {
	return model.LeadDescriptor{SubmissionID: "sub-1", State: "TX", CaseType: "AUTO"}
}

func baseOrder(id string) model.Order {
	return model.Order{
		ID:           id,
		AttorneyID:   "att-" + id,
		TargetStates: []string{"TX", "OK"},
		CaseType:     "AUTO",
		QuotaTotal:   10,
		QuotaFilled:  1,
		Status:       model.OrderStatusOpen,
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
		CreatedAt:    now.Add(-time.Hour),
	}
}

func TestRank_RemainingCapacityTerm(t *testing.T) {
	roomy := baseOrder("a")
	tight := baseOrder("b")
	tight.QuotaFilled = 9

	got := Rank(Input{Lead: txLead(), Orders: []model.Order{tight, roomy}, Now: now, Limit: 10})
	require.Len(t, got, 2)

	assert.Equal(t, "a", got[0].OrderID)
	assert.InDelta(t, 79.0, got[0].Score, 1e-9)
	assert.Equal(t, 9, got[0].Remaining)

	assert.Equal(t, "b", got[1].OrderID)
	assert.InDelta(t, 71.0, got[1].Score, 1e-9)
	assert.Equal(t, 1, got[1].Remaining)

	wantReasons := []string{ReasonStateMatch, ReasonCaseTypeMatch, ReasonLowQuotaPressure}
	if diff := cmp.Diff(wantReasons, got[0].Reasons); diff != "" {
		t.Fatalf("reasons mismatch (-want +got):\n%s", diff)
	}
}

func TestScore_Reasons(t *testing.T) {
	tests := []struct {
		name    string
		lead    func() model.LeadDescriptor
		order   func() model.Order
		score   float64
		reasons []string
	}{
		{
			name: "subtype on both sides and equal",
			lead: func() model.LeadDescriptor {
				l := txLead()
				l.CaseSubtype = "rear-end"
				return l
			},
			order: func() model.Order {
				o := baseOrder("x")
				o.CaseSubtype = "REAR-END"
				o.QuotaFilled = 0
				return o
			},
			score:   40 + 30 + 15 + 10,
			reasons: []string{ReasonStateMatch, ReasonCaseTypeMatch, ReasonCaseSubtypeMatch, ReasonLowQuotaPressure},
		},
		{
			name: "subtype only on order is neutral",
			lead: txLead,
			order: func() model.Order {
				o := baseOrder("x")
				o.CaseSubtype = "rear-end"
				o.QuotaFilled = 5
				return o
			},
			score:   40 + 30 + 5,
			reasons: []string{ReasonStateMatch, ReasonCaseTypeMatch, ReasonLowQuotaPressure},
		},
		{
			name: "subtype differs",
			lead: func() model.LeadDescriptor {
				l := txLead()
				l.CaseSubtype = "t-bone"
				return l
			},
			order: func() model.Order {
				o := baseOrder("x")
				o.CaseSubtype = "rear-end"
				o.QuotaFilled = 5
				return o
			},
			score:   40 + 30 + 5,
			reasons: []string{ReasonStateMatch, ReasonCaseTypeMatch, ReasonLowQuotaPressure},
		},
		{
			name: "expires in 36 hours",
			lead: txLead,
			order: func() model.Order {
				o := baseOrder("x")
				o.QuotaFilled = 5
				o.ExpiresAt = now.Add(36 * time.Hour)
				return o
			},
			score:   40 + 30 + 5 + 2.5,
			reasons: []string{ReasonStateMatch, ReasonCaseTypeMatch, ReasonLowQuotaPressure, ReasonExpiresSoon},
		},
		{
			name: "expires exactly at horizon gets no urgency",
			lead: txLead,
			order: func() model.Order {
				o := baseOrder("x")
				o.QuotaFilled = 5
				o.ExpiresAt = now.Add(UrgencyHorizon)
				return o
			},
			score:   40 + 30 + 5,
			reasons: []string{ReasonStateMatch, ReasonCaseTypeMatch, ReasonLowQuotaPressure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lead, order := tt.lead(), tt.order()
			require.True(t, Eligible(lead, order, now))

			score, reasons := Score(lead, order, now)
			assert.InDelta(t, tt.score, score, 1e-9)
			if diff := cmp.Diff(tt.reasons, reasons); diff != "" {
				t.Fatalf("reasons mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEligible_Filters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *model.Order, l *model.LeadDescriptor)
		want   bool
	}{
		{name: "baseline", mutate: func(*model.Order, *model.LeadDescriptor) {}, want: true},
		{name: "state case-insensitive", mutate: func(_ *model.Order, l *model.LeadDescriptor) { l.State = "ok" }, want: true},
		{name: "state not targeted", mutate: func(_ *model.Order, l *model.LeadDescriptor) { l.State = "CA" }, want: false},
		{name: "case type differs", mutate: func(_ *model.Order, l *model.LeadDescriptor) { l.CaseType = "SLIP" }, want: false},
		{name: "filled", mutate: func(o *model.Order, _ *model.LeadDescriptor) { o.QuotaFilled = o.QuotaTotal }, want: false},
		{name: "expired", mutate: func(o *model.Order, _ *model.LeadDescriptor) { o.ExpiresAt = now.Add(-24 * time.Hour) }, want: false},
		{
			name: "persisted expired but effectively open",
			mutate: func(o *model.Order, _ *model.LeadDescriptor) {
				o.Status = model.OrderStatusExpired
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, l := baseOrder("x"), txLead()
			tt.mutate(&o, &l)
			assert.Equal(t, tt.want, Eligible(l, o, now))
		})
	}
}

func TestRank_ScenariosExcluded(t *testing.T) {
	full := baseOrder("full")
	full.QuotaTotal, full.QuotaFilled = 3, 3

	stale := baseOrder("stale")
	stale.QuotaTotal, stale.QuotaFilled = 5, 2
	stale.ExpiresAt = now.Add(-24 * time.Hour)

	open := baseOrder("open")

	got := Rank(Input{Lead: txLead(), Orders: []model.Order{full, stale, open}, Now: now})
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].OrderID)
}

func TestRank_Exclude(t *testing.T) {
	a, b := baseOrder("a"), baseOrder("b")

	got := Rank(Input{
		Lead:    txLead(),
		Orders:  []model.Order{a, b},
		Now:     now,
		Exclude: map[string]struct{}{"a": {}},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].OrderID)
}

func TestRank_TieBreaks(t *testing.T) {
	later := baseOrder("a")
	later.ExpiresAt = now.Add(20 * 24 * time.Hour)

	sooner := baseOrder("z")
	sooner.ExpiresAt = now.Add(10 * 24 * time.Hour)

	twinB := baseOrder("b")
	twinB.ExpiresAt = later.ExpiresAt

	got := Rank(Input{Lead: txLead(), Orders: []model.Order{twinB, later, sooner}, Now: now})
	require.Len(t, got, 3)

	ids := []string{got[0].OrderID, got[1].OrderID, got[2].OrderID}
	if diff := cmp.Diff([]string{"z", "a", "b"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRank_OrderingAndFilterProperties(t *testing.T) {
	var orders []model.Order
	for i := 0; i < 40; i++ {
		o := baseOrder(fmt.Sprintf("o-%02d", i))
		o.QuotaTotal = 4 + i%5
		o.QuotaFilled = i % (o.QuotaTotal + 1)
		o.ExpiresAt = now.Add(time.Duration(i%7-1) * 24 * time.Hour)
		if i%3 == 0 {
			o.CaseSubtype = "rear-end"
		}
		if i%11 == 0 {
			o.TargetStates = []string{"CA"}
		}
		orders = append(orders, o)
	}

	lead := txLead()
	lead.CaseSubtype = "rear-end"

	got := Rank(Input{Lead: lead, Orders: orders, Now: now, Limit: MaxLimit})
	require.NotEmpty(t, got)

	byID := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	for i, r := range got {
		o := byID[r.OrderID]
		assert.Equal(t, model.OrderStatusOpen, expiry.EffectiveStatus(o, now), r.OrderID)
		assert.Positive(t, r.Remaining)

		if i == 0 {
			continue
		}
		prev := got[i-1]
		require.GreaterOrEqual(t, prev.Score, r.Score)
		if prev.Score == r.Score {
			require.False(t, prev.ExpiresAt.After(r.ExpiresAt))
			if prev.ExpiresAt.Equal(r.ExpiresAt) {
				require.Less(t, prev.OrderID, r.OrderID)
			}
		}
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))

	var orders []model.Order
	for i := 0; i < 5; i++ {
		orders = append(orders, baseOrder(fmt.Sprintf("o-%d", i)))
	}
	got := Rank(Input{Lead: txLead(), Orders: orders, Now: now, Limit: 2})
	assert.Len(t, got, 2)
}
