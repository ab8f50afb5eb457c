package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/database"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

const workflowColumns = `
	id, organization_id, entity_type, entity_id, amount, currency, category,
	status, current_stage, total_stages, requested_by, rule_id,
	completed_at, created_at, updated_at`

const stageColumns = `
	id, workflow_id, organization_id, stage_index, mode,
	eligible_roles, approvers, deadline, escalate_to, escalated_for,
	status, created_at, updated_at`

// DecisionApplyFunc mutates the locked workflow and its stages and returns
// the history entry to append. Any error aborts with no partial mutation.
type DecisionApplyFunc func(wf *ApprovalWorkflow, stages []*ApprovalStage) (*ApprovalHistoryEntry, error)

// DecisionRecord is the committed outcome of ApplyDecision.
type DecisionRecord struct {
	Workflow *ApprovalWorkflow
	Stages   []*ApprovalStage
	Entry    *ApprovalHistoryEntry
	// Skipped is set when apply decided no change was needed (already
	// handled); nothing was written.
	Skipped bool
}

// ErrDecisionNoop is returned by a DecisionApplyFunc to commit nothing.
var errDecisionNoop = errors.New(errors.ErrCodeConflict, "decision produced no change")

// DecisionNoop signals ApplyDecision to skip persisting anything.
func DecisionNoop() error { return errDecisionNoop }

// ExpiredWorkflowRef identifies a workflow whose current stage deadline has
// passed. Returned by the system-level scanner query.
type ExpiredWorkflowRef struct {
	WorkflowID     string
	OrganizationID string
}

// ApprovalWorkflowRepository manages workflow instances, their stages and
// their immutable history. Workflow + stage + history creation is one
// transaction; decisions are serialized per workflow via a row lock.
type ApprovalWorkflowRepository struct {
	db *database.DB
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db *database.DB) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

// Create inserts a workflow, its stages and the initial history entry in one
// transaction.
func (r *ApprovalWorkflowRepository) Create(
	ctx context.Context,
	scope tenant.Scope,
	wf *ApprovalWorkflow,
	stages []*ApprovalStage,
	entry *ApprovalHistoryEntry,
) error {
	if scope.IsGlobal() {
		return errors.InvalidInput("scope", "approval workflows must belong to an organization")
	}
	wf.OrganizationID = scope.OrganizationID()

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wfQuery := `
			INSERT INTO approval_workflows
			    (organization_id, entity_type, entity_id, amount, currency, category,
			     status, current_stage, total_stages, requested_by, rule_id)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, wfQuery,
			wf.OrganizationID,
			wf.EntityType,
			wf.EntityID,
			wf.Amount,
			wf.Currency,
			wf.Category,
			wf.Status,
			wf.CurrentStage,
			wf.TotalStages,
			wf.RequestedBy,
			wf.RuleID,
		).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
		}

		for _, stage := range stages {
			stage.WorkflowID = wf.ID
			stage.OrganizationID = wf.OrganizationID
			if err := insertStage(ctx, tx, stage); err != nil {
				return err
			}
		}

		entry.WorkflowID = wf.ID
		entry.OrganizationID = wf.OrganizationID
		return appendHistoryTx(ctx, tx, entry)
	})
}

// GetByID retrieves a workflow by its primary key within the scope.
func (r *ApprovalWorkflowRepository) GetByID(ctx context.Context, scope tenant.Scope, id string) (*ApprovalWorkflow, error) {
	where, args := scope.Filter().Where("id = ?", id).Build(1, "organization_id")
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE ` + where

	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, errors.WorkflowNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval workflow")
	}
	return wf, nil
}

// GetActiveByEntity returns the pending workflow for an entity, or nil.
func (r *ApprovalWorkflowRepository) GetActiveByEntity(ctx context.Context, scope tenant.Scope, entityType EntityType, entityID string) (*ApprovalWorkflow, error) {
	where, args := scope.Filter().
		Where("entity_type = ?", string(entityType)).
		Where("entity_id = ?", entityID).
		Where("status = ?", string(WorkflowPending)).
		Build(1, "organization_id")
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE ` + where + `
		ORDER BY created_at DESC LIMIT 1`

	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active workflow")
	}
	return wf, nil
}

// HasApprovedWorkflow reports whether an entity has a completed, approved
// workflow. Used as the gate for approval-dependent state transitions.
func (r *ApprovalWorkflowRepository) HasApprovedWorkflow(ctx context.Context, scope tenant.Scope, entityType EntityType, entityID string) (bool, error) {
	where, args := scope.Filter().
		Where("entity_type = ?", string(entityType)).
		Where("entity_id = ?", entityID).
		Where("status = ?", string(WorkflowApproved)).
		Build(1, "organization_id")
	query := `SELECT EXISTS (SELECT 1 FROM approval_workflows WHERE ` + where + `)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check approved workflow")
	}
	return exists, nil
}

// GetStages returns a workflow's stages ordered by index.
func (r *ApprovalWorkflowRepository) GetStages(ctx context.Context, scope tenant.Scope, workflowID string) ([]*ApprovalStage, error) {
	where, args := scope.Filter().Where("workflow_id = ?", workflowID).Build(1, "organization_id")
	query := `SELECT ` + stageColumns + ` FROM approval_stages WHERE ` + where + ` ORDER BY stage_index ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval stages")
	}
	defer rows.Close()

	return scanStages(rows)
}

// ApplyDecision serializes one decision (or escalation) against a workflow.
// The workflow row is locked FOR UPDATE so near-simultaneous approvals on a
// parallel stage each see the other's committed write. apply mutates the
// workflow and stages in place; everything it changed is persisted together
// with the returned history entry.
func (r *ApprovalWorkflowRepository) ApplyDecision(
	ctx context.Context,
	scope tenant.Scope,
	workflowID string,
	apply DecisionApplyFunc,
) (*DecisionRecord, error) {
	record := &DecisionRecord{}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		where, args := scope.Filter().Where("id = ?", workflowID).Build(1, "organization_id")
		query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE ` + where + ` FOR UPDATE`

		wf, err := scanWorkflow(tx.QueryRow(ctx, query, args...))
		if err == pgx.ErrNoRows {
			return errors.WorkflowNotFound(workflowID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval workflow")
		}

		stageQuery := `SELECT ` + stageColumns + ` FROM approval_stages WHERE workflow_id = $1 ORDER BY stage_index ASC`
		rows, err := tx.Query(ctx, stageQuery, wf.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval stages")
		}
		stages, err := scanStages(rows)
		rows.Close()
		if err != nil {
			return err
		}

		entry, err := apply(wf, stages)
		if err == errDecisionNoop {
			record.Workflow = wf
			record.Stages = stages
			record.Skipped = true
			return nil
		}
		if err != nil {
			return err
		}

		wfUpdate := `
			UPDATE approval_workflows
			SET status = $2, current_stage = $3, completed_at = $4, updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, wfUpdate, wf.ID, wf.Status, wf.CurrentStage, wf.CompletedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval workflow")
		}

		for _, stage := range stages {
			if err := updateStage(ctx, tx, stage); err != nil {
				return err
			}
		}

		entry.WorkflowID = wf.ID
		entry.OrganizationID = wf.OrganizationID
		if err := appendHistoryTx(ctx, tx, entry); err != nil {
			return err
		}

		record.Workflow = wf
		record.Stages = stages
		record.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListExpired returns pending workflows whose current stage deadline passed
// before now. This is the system-level scanner query: it spans organizations
// by design and returns only references, which the scanner re-reads under a
// per-organization scope.
func (r *ApprovalWorkflowRepository) ListExpired(ctx context.Context, now time.Time) ([]ExpiredWorkflowRef, error) {
	query := `
		SELECT w.id, w.organization_id
		FROM approval_workflows w
		JOIN approval_stages s
		  ON s.workflow_id = w.id AND s.stage_index = w.current_stage
		WHERE w.status = $1
		  AND s.status = $2
		  AND s.deadline < $3
		  AND (s.escalated_for IS NULL OR s.escalated_for < s.deadline)
		ORDER BY s.deadline ASC
	`

	rows, err := r.db.Query(ctx, query, WorkflowPending, StagePending, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expired workflows")
	}
	defer rows.Close()

	var refs []ExpiredWorkflowRef
	for rows.Next() {
		var ref ExpiredWorkflowRef
		if err := rows.Scan(&ref.WorkflowID, &ref.OrganizationID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expired workflow")
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// GetPendingForUser returns current stages awaiting action from a user.
func (r *ApprovalWorkflowRepository) GetPendingForUser(ctx context.Context, scope tenant.Scope, userID string) ([]*ApprovalStage, error) {
	where, args := scope.Filter().
		Where("w.status = ?", string(WorkflowPending)).
		Where("s.status = ?", string(StagePending)).
		Where(`EXISTS (
			SELECT 1 FROM jsonb_array_elements(s.approvers) a
			WHERE a->>'user_id' = ? AND a->>'status' = 'pending')`, userID).
		Build(1, "s.organization_id")
	query := `
		SELECT s.id, s.workflow_id, s.organization_id, s.stage_index, s.mode,
		       s.eligible_roles, s.approvers, s.deadline, s.escalate_to, s.escalated_for,
		       s.status, s.created_at, s.updated_at
		FROM approval_stages s
		JOIN approval_workflows w ON w.id = s.workflow_id AND w.current_stage = s.stage_index
		WHERE ` + where + `
		ORDER BY s.deadline ASC
	`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return scanStages(rows)
}

// ── stage persistence helpers ────────────────────────────────────────────────

func insertStage(ctx context.Context, tx pgx.Tx, stage *ApprovalStage) error {
	rolesJSON, approversJSON, err := marshalStage(stage)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_stages
		    (workflow_id, organization_id, stage_index, mode,
		     eligible_roles, approvers, deadline, escalate_to, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		stage.WorkflowID,
		stage.OrganizationID,
		stage.Index,
		stage.Mode,
		rolesJSON,
		approversJSON,
		stage.Deadline,
		stage.EscalateTo,
		stage.Status,
	).Scan(&stage.ID, &stage.CreatedAt, &stage.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval stage")
	}
	return nil
}

func updateStage(ctx context.Context, tx pgx.Tx, stage *ApprovalStage) error {
	rolesJSON, approversJSON, err := marshalStage(stage)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_stages
		SET eligible_roles = $2,
		    approvers      = $3,
		    deadline       = $4,
		    escalated_for  = $5,
		    status         = $6,
		    updated_at     = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query,
		stage.ID, rolesJSON, approversJSON, stage.Deadline, stage.EscalatedFor, stage.Status,
	); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval stage")
	}
	return nil
}

func marshalStage(stage *ApprovalStage) (rolesJSON, approversJSON []byte, err error) {
	rolesJSON, err = json.Marshal(stage.EligibleRoles)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal eligible roles")
	}
	approversJSON, err = json.Marshal(stage.Approvers)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approvers")
	}
	return rolesJSON, approversJSON, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row workflowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	err := row.Scan(
		&wf.ID,
		&wf.OrganizationID,
		&wf.EntityType,
		&wf.EntityID,
		&wf.Amount,
		&wf.Currency,
		&wf.Category,
		&wf.Status,
		&wf.CurrentStage,
		&wf.TotalStages,
		&wf.RequestedBy,
		&wf.RuleID,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func scanStages(rows pgx.Rows) ([]*ApprovalStage, error) {
	var stages []*ApprovalStage
	for rows.Next() {
		s := &ApprovalStage{}
		var rolesJSON, approversJSON []byte
		err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.OrganizationID,
			&s.Index,
			&s.Mode,
			&rolesJSON,
			&approversJSON,
			&s.Deadline,
			&s.EscalateTo,
			&s.EscalatedFor,
			&s.Status,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval stage")
		}
		if err := json.Unmarshal(rolesJSON, &s.EligibleRoles); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal eligible roles")
		}
		if err := json.Unmarshal(approversJSON, &s.Approvers); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approvers")
		}
		stages = append(stages, s)
	}
	return stages, nil
}
