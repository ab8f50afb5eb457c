package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proplio/be-fm-engine/internal/repository"
)

func TestSelectRuleDefaults(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name     string
		amount   int64
		category string
		want     string
	}{
		{"small repair", 500_00, "OTHER", "minor-works"},
		{"exactly at minor ceiling", 1_000_00, "PAINTING", "minor-works"},
		{"minor flagged category still minor", 900_00, "PLUMBING", "minor-works"},
		{"mid-range plumbing is flagged", 1_500_00, "PLUMBING", "flagged-mid-range"},
		{"mid-range electrical is flagged", 9_999_99, "ELECTRICAL", "flagged-mid-range"},
		{"mid-range painting is not flagged", 1_500_00, "PAINTING", "mid-range"},
		{"exactly at major floor", 10_000_00, "PAINTING", "mid-range"},
		{"above major floor", 10_000_01, "PAINTING", "major-works"},
		{"huge flagged job", 250_000_00, "STRUCTURAL", "major-works"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := SelectRule(rules, tt.amount, tt.category)
			require.NotNil(t, rule)
			assert.Equal(t, tt.want, rule.Name)
		})
	}
}

func TestSelectRuleSkipsInactive(t *testing.T) {
	rules := DefaultRules()
	rules[0].IsActive = false

	rule := SelectRule(rules, 500_00, "OTHER")
	require.NotNil(t, rule)
	assert.Equal(t, "mid-range", rule.Name)
}

func TestSelectRuleNoMatch(t *testing.T) {
	ceiling := int64(100_00)
	rules := []*repository.ApprovalRule{
		{Name: "tiny-only", MaxAmount: &ceiling, IsActive: true},
	}
	assert.Nil(t, SelectRule(rules, 500_00, "OTHER"))
}

func TestDefaultRulesShape(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 4)

	// Ceilings ascend, unbounded last.
	var prev int64 = -1
	for i, r := range rules {
		if r.MaxAmount == nil {
			assert.Equal(t, len(rules)-1, i, "only the last rule may be unbounded")
			continue
		}
		assert.GreaterOrEqual(t, *r.MaxAmount, prev)
		prev = *r.MaxAmount
	}

	// Major works end in a parallel finance stage: every finance approver
	// must sign off.
	major := rules[3]
	require.Len(t, major.Stages, 3)
	assert.Equal(t, repository.StageParallel, major.Stages[2].Mode)
}
