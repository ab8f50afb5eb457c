package service

import (
	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/repository"
)

// Monetary thresholds in cents.
const (
	minorWorksCeiling = 100_000   // 1,000.00
	majorWorksFloor   = 1_000_000 // 10,000.00
)

// flaggedCategories get the stricter mid-range routing.
var flaggedCategories = []string{"PLUMBING", "ELECTRICAL", "HVAC", "STRUCTURAL"}

// defaultFallbackRole approves when no rule matches at all.
var defaultFallbackRole = string(authz.RoleManagement)

// DefaultRules is the built-in policy table, used when an organization has
// not configured its own rules. Ordered by ascending ceiling; selection takes
// the first rule whose ceiling covers the amount and whose category matches.
func DefaultRules() []*repository.ApprovalRule {
	minor := int64(minorWorksCeiling)
	mid := int64(majorWorksFloor)

	return []*repository.ApprovalRule{
		{
			Name:      "minor-works",
			MaxAmount: &minor,
			Stages: []repository.RuleStage{
				{
					Mode:         repository.StageSequential,
					Roles:        []string{string(authz.RolePropertyOwner)},
					TimeoutHours: 24,
					EscalateTo:   string(authz.RoleManagement),
				},
			},
			IsActive: true,
		},
		{
			Name:       "flagged-mid-range",
			MaxAmount:  &mid,
			Categories: flaggedCategories,
			Stages: []repository.RuleStage{
				{
					Mode:         repository.StageSequential,
					Roles:        []string{string(authz.RolePropertyOwner)},
					TimeoutHours: 48,
					EscalateTo:   string(authz.RoleOwnerDeputy),
				},
				{
					Mode:         repository.StageSequential,
					Roles:        []string{string(authz.RoleManagement)},
					TimeoutHours: 48,
					EscalateTo:   string(authz.RoleCorporateAdmin),
				},
			},
			IsActive: true,
		},
		{
			Name:      "mid-range",
			MaxAmount: &mid,
			Stages: []repository.RuleStage{
				{
					Mode:         repository.StageSequential,
					Roles:        []string{string(authz.RoleManagement)},
					TimeoutHours: 48,
					EscalateTo:   string(authz.RoleCorporateAdmin),
				},
			},
			IsActive: true,
		},
		{
			Name: "major-works",
			Stages: []repository.RuleStage{
				{
					Mode:         repository.StageSequential,
					Roles:        []string{string(authz.RolePropertyOwner)},
					TimeoutHours: 72,
					EscalateTo:   string(authz.RoleOwnerDeputy),
				},
				{
					Mode:         repository.StageSequential,
					Roles:        []string{string(authz.RoleManagement)},
					TimeoutHours: 72,
					EscalateTo:   string(authz.RoleCorporateAdmin),
				},
				{
					Mode:         repository.StageParallel,
					Roles:        []string{string(authz.RoleFinance)},
					TimeoutHours: 72,
					EscalateTo:   string(authz.RoleCorporateAdmin),
				},
			},
			IsActive: true,
		},
	}
}

// SelectRule picks the first rule, in the given ascending-ceiling order, that
// covers the amount and matches the category. Returns nil when none does.
func SelectRule(rules []*repository.ApprovalRule, amount int64, category string) *repository.ApprovalRule {
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.Covers(amount) && rule.MatchesCategory(category) {
			return rule
		}
	}
	return nil
}
