package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/database"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// ApprovalRulesRepository handles CRUD for approval routing rules.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// Create inserts a new routing rule for the scope's organization.
func (r *ApprovalRulesRepository) Create(ctx context.Context, scope tenant.Scope, rule *ApprovalRule) error {
	if scope.IsGlobal() {
		return errors.InvalidInput("scope", "approval rules must belong to an organization")
	}
	rule.OrganizationID = scope.OrganizationID()

	categoriesJSON, err := json.Marshal(rule.Categories)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule categories")
	}
	stagesJSON, err := json.Marshal(rule.Stages)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule stages")
	}

	query := `
		INSERT INTO approval_rules
		    (organization_id, name, max_amount, categories, stages, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.OrganizationID,
		rule.Name,
		rule.MaxAmount,
		categoriesJSON,
		stagesJSON,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// ListActive returns an organization's active rules in ascending ceiling
// order, unbounded rules last. This is the evaluation order for routing.
func (r *ApprovalRulesRepository) ListActive(ctx context.Context, scope tenant.Scope) ([]*ApprovalRule, error) {
	where, args := scope.Filter().Where("is_active = TRUE").Build(1, "organization_id")
	query := `
		SELECT id, organization_id, name, max_amount, categories, stages,
		       is_active, created_at, updated_at
		FROM approval_rules
		WHERE ` + where + `
		ORDER BY max_amount ASC NULLS LAST, name ASC
	`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GetByID retrieves a rule by primary key within the scope.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, scope tenant.Scope, id string) (*ApprovalRule, error) {
	where, args := scope.Filter().Where("id = ?", id).Build(1, "organization_id")
	query := `
		SELECT id, organization_id, name, max_amount, categories, stages,
		       is_active, created_at, updated_at
		FROM approval_rules
		WHERE ` + where + `
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

// Deactivate retires a rule without deleting routing history behind it.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, scope tenant.Scope, id string) error {
	where, args := scope.Filter().Where("id = ?", id).Build(1, "organization_id")
	query := `UPDATE approval_rules SET is_active = FALSE, updated_at = NOW() WHERE ` + where + ` RETURNING id`

	var returned string
	err := r.db.QueryRow(ctx, query, args...).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var categoriesJSON, stagesJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&rule.MaxAmount,
		&categoriesJSON,
		&stagesJSON,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(categoriesJSON, &rule.Categories); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule categories")
	}
	if err := json.Unmarshal(stagesJSON, &rule.Stages); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule stages")
	}
	return rule, nil
}
