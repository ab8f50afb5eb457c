package service

import (
	"context"
	"fmt"
	"time"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// DirectoryClient resolves user identities from the external directory.
type DirectoryClient interface {
	// GetUsersWithRole returns user ids holding the role in an organization.
	GetUsersWithRole(ctx context.Context, organizationID, role string) ([]string, error)
}

// RuleStore manages approval routing rules. Implemented by
// repository.ApprovalRulesRepository.
type RuleStore interface {
	Create(ctx context.Context, scope tenant.Scope, rule *repository.ApprovalRule) error
	ListActive(ctx context.Context, scope tenant.Scope) ([]*repository.ApprovalRule, error)
	GetByID(ctx context.Context, scope tenant.Scope, id string) (*repository.ApprovalRule, error)
	Deactivate(ctx context.Context, scope tenant.Scope, id string) error
}

// WorkflowStore persists workflows, stages and history. Implemented by
// repository.ApprovalWorkflowRepository.
type WorkflowStore interface {
	Create(ctx context.Context, scope tenant.Scope, wf *repository.ApprovalWorkflow,
		stages []*repository.ApprovalStage, entry *repository.ApprovalHistoryEntry) error
	GetByID(ctx context.Context, scope tenant.Scope, id string) (*repository.ApprovalWorkflow, error)
	GetActiveByEntity(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (*repository.ApprovalWorkflow, error)
	HasApprovedWorkflow(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (bool, error)
	GetStages(ctx context.Context, scope tenant.Scope, workflowID string) ([]*repository.ApprovalStage, error)
	ApplyDecision(ctx context.Context, scope tenant.Scope, workflowID string,
		apply repository.DecisionApplyFunc) (*repository.DecisionRecord, error)
	ListExpired(ctx context.Context, now time.Time) ([]repository.ExpiredWorkflowRef, error)
	GetPendingForUser(ctx context.Context, scope tenant.Scope, userID string) ([]*repository.ApprovalStage, error)
}

// HistoryStore reads the immutable workflow history. Implemented by
// repository.ApprovalHistoryRepository.
type HistoryStore interface {
	ListByWorkflow(ctx context.Context, scope tenant.Scope, workflowID string) ([]*repository.ApprovalHistoryEntry, error)
}

// ApprovalNotifier publishes workflow events. Failures are logged downstream,
// never returned.
type ApprovalNotifier interface {
	DispatchApprovalEvent(ctx context.Context, event EventType, wf *repository.ApprovalWorkflow, recipients []string)
}

// Decision is an approver's action on the current stage.
type Decision string

const (
	DecisionApprove  Decision = "APPROVE"
	DecisionReject   Decision = "REJECT"
	DecisionDelegate Decision = "DELEGATE"
)

// RouteRequest asks for an approval workflow over a monetary obligation.
type RouteRequest struct {
	EntityType  repository.EntityType
	EntityID    string
	Amount      int64 // cents
	Currency    string
	Category    string
	RequestedBy string
}

// ApprovalRoutingService builds and advances multi-stage approval workflows.
type ApprovalRoutingService struct {
	rules     RuleStore
	workflows WorkflowStore
	history   HistoryStore
	directory DirectoryClient
	notifier  ApprovalNotifier
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalRoutingService creates a new ApprovalRoutingService.
func NewApprovalRoutingService(
	rules RuleStore,
	workflows WorkflowStore,
	history HistoryStore,
	directory DirectoryClient,
	notifier ApprovalNotifier,
	log *logger.Logger,
) *ApprovalRoutingService {
	return &ApprovalRoutingService{
		rules:     rules,
		workflows: workflows,
		history:   history,
		directory: directory,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// ── Routing ──────────────────────────────────────────────────────────────────

// Route selects the matching policy rule and creates the workflow with its
// stages and the initial history entry in one transaction.
func (s *ApprovalRoutingService) Route(ctx context.Context, scope tenant.Scope, req *RouteRequest) (*repository.ApprovalWorkflow, error) {
	if !repository.ValidEntityType(req.EntityType) {
		return nil, errors.InvalidInput("entity_type", "unknown entity type")
	}
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}
	if req.Amount <= 0 {
		return nil, errors.InvalidInput("amount", "amount must be positive")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	existing, err := s.workflows.GetActiveByEntity(ctx, scope, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("entity already has a pending workflow: %s", existing.ID))
	}

	orgRules, err := s.rules.ListActive(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(orgRules) == 0 {
		orgRules = DefaultRules()
	}

	rule := SelectRule(orgRules, req.Amount, req.Category)
	stageDefs := s.resolveStageDefs(rule)

	stages, err := s.buildStages(ctx, scope.OrganizationID(), stageDefs)
	if err != nil {
		return nil, err
	}

	wf := &repository.ApprovalWorkflow{
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Category:     req.Category,
		Status:       repository.WorkflowPending,
		CurrentStage: 0,
		TotalStages:  len(stages),
		RequestedBy:  req.RequestedBy,
	}
	if rule != nil && rule.ID != "" {
		wf.RuleID = &rule.ID
	}

	entry := &repository.ApprovalHistoryEntry{
		Action:  repository.HistoryRouted,
		ActorID: req.RequestedBy,
		Metadata: map[string]interface{}{
			"amount":   req.Amount,
			"category": req.Category,
			"stages":   len(stages),
		},
	}

	if err := s.workflows.Create(ctx, scope, wf, stages, entry); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("entity_type", string(wf.EntityType)).
		Str("entity_id", wf.EntityID).
		Int64("amount", wf.Amount).
		Int("stages", wf.TotalStages).
		Msg("Approval workflow routed")

	s.notifier.DispatchApprovalEvent(ctx, EventApprovalRequested, wf, approverIDs(stages[0]))
	return wf, nil
}

// resolveStageDefs returns the rule's stage definitions, or the single
// fallback stage when no rule matched.
func (s *ApprovalRoutingService) resolveStageDefs(rule *repository.ApprovalRule) []repository.RuleStage {
	if rule != nil && len(rule.Stages) > 0 {
		return rule.Stages
	}
	return []repository.RuleStage{
		{Mode: repository.StageSequential, Roles: []string{defaultFallbackRole}, TimeoutHours: 48},
	}
}

// buildStages expands rule stages into stage records, resolving the approver
// set for each role through the directory.
func (s *ApprovalRoutingService) buildStages(ctx context.Context, organizationID string, defs []repository.RuleStage) ([]*repository.ApprovalStage, error) {
	now := s.now()
	stages := make([]*repository.ApprovalStage, 0, len(defs))

	for i, def := range defs {
		stage := &repository.ApprovalStage{
			Index:         i,
			Mode:          def.Mode,
			EligibleRoles: def.Roles,
			Deadline:      now.Add(time.Duration(def.TimeoutHours) * time.Hour),
			Status:        repository.StagePending,
		}
		if def.EscalateTo != "" {
			esc := def.EscalateTo
			stage.EscalateTo = &esc
		}

		for _, role := range def.Roles {
			users, err := s.directory.GetUsersWithRole(ctx, organizationID, role)
			if err != nil {
				s.log.Warn().Err(err).Str("role", role).
					Msg("Could not resolve users for role; stage approvers left role-based")
				continue
			}
			for _, userID := range users {
				stage.Approvers = append(stage.Approvers, repository.StageApprover{
					UserID: userID,
					Role:   role,
					Status: repository.ApproverPending,
				})
			}
		}

		stages = append(stages, stage)
	}

	return stages, nil
}

// ── Decisions ────────────────────────────────────────────────────────────────

// Decide records an approver's action against the current stage. The workflow
// row is locked for the duration, so concurrent decisions on one workflow are
// serialized and parallel-stage approvals always see each other's writes.
func (s *ApprovalRoutingService) Decide(
	ctx context.Context,
	scope tenant.Scope,
	workflowID string,
	actor authz.Actor,
	decision Decision,
	delegateTo string,
	note *string,
) (*repository.ApprovalWorkflow, error) {
	var (
		completed    bool
		rejected     bool
		advancedTo   *repository.ApprovalStage
		delegateUser string
	)

	record, err := s.workflows.ApplyDecision(ctx, scope, workflowID, func(wf *repository.ApprovalWorkflow, stages []*repository.ApprovalStage) (*repository.ApprovalHistoryEntry, error) {
		if wf.Status != repository.WorkflowPending {
			return nil, errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("workflow is not pending (status: %s)", wf.Status))
		}
		if wf.CurrentStage < 0 || wf.CurrentStage >= len(stages) {
			return nil, errors.New(errors.ErrCodeInternal, "workflow current stage out of range")
		}
		stage := stages[wf.CurrentStage]

		if wf.RequestedBy == actor.ID && decision == DecisionApprove {
			return nil, errors.Unauthorized("self-approval is not allowed")
		}
		if err := s.assertEligible(stage, actor); err != nil {
			return nil, err
		}

		now := s.now()
		stageIdx := wf.CurrentStage
		entry := &repository.ApprovalHistoryEntry{
			StageIndex: &stageIdx,
			ActorID:    actor.ID,
			Note:       note,
		}

		switch decision {
		case DecisionApprove:
			done, err := s.applyApprove(stage, actor, now)
			if err != nil {
				return nil, err
			}
			entry.Action = repository.HistoryApproved
			if done {
				stage.Status = repository.StageApproved
				if wf.CurrentStage == wf.TotalStages-1 {
					wf.Status = repository.WorkflowApproved
					wf.CompletedAt = &now
					completed = true
				} else {
					wf.CurrentStage++
					advancedTo = stages[wf.CurrentStage]
				}
			}

		case DecisionReject:
			stage.Status = repository.StageRejected
			wf.Status = repository.WorkflowRejected
			wf.CompletedAt = &now
			rejected = true
			entry.Action = repository.HistoryRejected

		case DecisionDelegate:
			if delegateTo == "" {
				return nil, errors.InvalidInput("delegate_to", "delegate target is required")
			}
			if err := s.applyDelegate(stage, actor, delegateTo); err != nil {
				return nil, err
			}
			delegateUser = delegateTo
			entry.Action = repository.HistoryDelegated
			entry.DelegateTo = &delegateTo

		default:
			return nil, errors.InvalidInput("decision", "unknown decision")
		}

		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	wf := record.Workflow
	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("decision", string(decision)).
		Str("actor_id", actor.ID).
		Str("status", string(wf.Status)).
		Int("current_stage", wf.CurrentStage).
		Msg("Approval decision recorded")

	switch {
	case completed:
		s.notifier.DispatchApprovalEvent(ctx, EventApprovalApproved, wf, []string{wf.RequestedBy})
	case rejected:
		s.notifier.DispatchApprovalEvent(ctx, EventApprovalRejected, wf, []string{wf.RequestedBy})
	case advancedTo != nil:
		s.notifier.DispatchApprovalEvent(ctx, EventApprovalRequested, wf, approverIDs(advancedTo))
	case delegateUser != "":
		s.notifier.DispatchApprovalEvent(ctx, EventApprovalRequested, wf, []string{delegateUser})
	}

	return wf, nil
}

// Cancel stops a pending workflow. Only the original requester may cancel.
func (s *ApprovalRoutingService) Cancel(ctx context.Context, scope tenant.Scope, workflowID string, actor authz.Actor, note *string) (*repository.ApprovalWorkflow, error) {
	record, err := s.workflows.ApplyDecision(ctx, scope, workflowID, func(wf *repository.ApprovalWorkflow, stages []*repository.ApprovalStage) (*repository.ApprovalHistoryEntry, error) {
		if wf.Status != repository.WorkflowPending {
			return nil, errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("workflow cannot be cancelled from status %s", wf.Status))
		}
		if wf.RequestedBy != actor.ID && actor.Role != authz.RoleSuperAdmin {
			return nil, errors.Unauthorized("only the requester can cancel the workflow")
		}

		now := s.now()
		wf.Status = repository.WorkflowCancelled
		wf.CompletedAt = &now

		return &repository.ApprovalHistoryEntry{
			Action:  repository.HistoryCancelled,
			ActorID: actor.ID,
			Note:    note,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return record.Workflow, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetWorkflow loads a workflow with its stages.
func (s *ApprovalRoutingService) GetWorkflow(ctx context.Context, scope tenant.Scope, workflowID string) (*repository.ApprovalWorkflow, []*repository.ApprovalStage, error) {
	wf, err := s.workflows.GetByID(ctx, scope, workflowID)
	if err != nil {
		return nil, nil, err
	}
	stages, err := s.workflows.GetStages(ctx, scope, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return wf, stages, nil
}

// GetPendingApprovals returns stages currently awaiting action from a user.
func (s *ApprovalRoutingService) GetPendingApprovals(ctx context.Context, scope tenant.Scope, userID string) ([]*repository.ApprovalStage, error) {
	return s.workflows.GetPendingForUser(ctx, scope, userID)
}

// ── Rule administration ──────────────────────────────────────────────────────

func ruleAdminAllowed(actor authz.Actor) bool {
	switch actor.Role {
	case authz.RoleSuperAdmin, authz.RoleCorporateAdmin, authz.RoleManagement:
		return true
	}
	return false
}

// CreateRule registers an organization-specific routing rule.
func (s *ApprovalRoutingService) CreateRule(ctx context.Context, scope tenant.Scope, actor authz.Actor, rule *repository.ApprovalRule) error {
	if !ruleAdminAllowed(actor) {
		return errors.Unauthorized("not allowed to manage approval rules")
	}
	if rule.Name == "" {
		return errors.InvalidInput("name", "rule name is required")
	}
	if len(rule.Stages) == 0 {
		return errors.InvalidInput("stages", "at least one stage is required")
	}
	for i, st := range rule.Stages {
		if st.Mode != repository.StageSequential && st.Mode != repository.StageParallel {
			return errors.InvalidInput("stages", fmt.Sprintf("stage %d has an unknown mode", i))
		}
		if len(st.Roles) == 0 {
			return errors.InvalidInput("stages", fmt.Sprintf("stage %d has no eligible roles", i))
		}
	}
	rule.IsActive = true
	return s.rules.Create(ctx, scope, rule)
}

// ListRules returns the organization's active routing rules.
func (s *ApprovalRoutingService) ListRules(ctx context.Context, scope tenant.Scope) ([]*repository.ApprovalRule, error) {
	return s.rules.ListActive(ctx, scope)
}

// DeactivateRule retires a rule. Pending workflows routed by it are
// unaffected; their stage rows already carry everything they need.
func (s *ApprovalRoutingService) DeactivateRule(ctx context.Context, scope tenant.Scope, actor authz.Actor, ruleID string) error {
	if !ruleAdminAllowed(actor) {
		return errors.Unauthorized("not allowed to manage approval rules")
	}
	if _, err := s.rules.GetByID(ctx, scope, ruleID); err != nil {
		return err
	}
	return s.rules.Deactivate(ctx, scope, ruleID)
}

// GetHistory returns a workflow's immutable action log, oldest first.
func (s *ApprovalRoutingService) GetHistory(ctx context.Context, scope tenant.Scope, workflowID string) ([]*repository.ApprovalHistoryEntry, error) {
	if _, err := s.workflows.GetByID(ctx, scope, workflowID); err != nil {
		return nil, err
	}
	return s.history.ListByWorkflow(ctx, scope, workflowID)
}

// EntityApproved implements ApprovalGate for the state machine.
func (s *ApprovalRoutingService) EntityApproved(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (bool, error) {
	return s.workflows.HasApprovedWorkflow(ctx, scope, entityType, entityID)
}

// ── decision helpers ─────────────────────────────────────────────────────────

// assertEligible checks role membership or a recorded (possibly delegated)
// approver entry on the current stage.
func (s *ApprovalRoutingService) assertEligible(stage *repository.ApprovalStage, actor authz.Actor) error {
	if stage.FindApprover(actor.ID) != nil {
		return nil
	}
	for _, role := range stage.EligibleRoles {
		if role == string(actor.Role) {
			return nil
		}
	}
	return errors.StageMismatch("approver is not eligible for the current stage")
}

// applyApprove marks the actor's approval and reports whether the stage is
// now resolved. Parallel stages resolve only when every listed approver has
// approved; first-approver-wins is deliberately not supported for them.
func (s *ApprovalRoutingService) applyApprove(stage *repository.ApprovalStage, actor authz.Actor, now time.Time) (bool, error) {
	entry := stage.FindApprover(actor.ID)

	if stage.Mode == repository.StageParallel {
		if entry == nil {
			if len(stage.Approvers) > 0 {
				return false, errors.StageMismatch("parallel stage approvals are limited to its listed approvers")
			}
			// No approvers were resolvable at routing time; record the
			// role-eligible actor as the stage's approver set.
			stage.Approvers = append(stage.Approvers, repository.StageApprover{
				UserID:  actor.ID,
				Role:    string(actor.Role),
				Status:  repository.ApproverApproved,
				ActedAt: &now,
			})
			return true, nil
		}
		if entry.Status == repository.ApproverApproved {
			return false, errors.New(errors.ErrCodeConflict, "approver has already approved this stage")
		}
		entry.Status = repository.ApproverApproved
		entry.ActedAt = &now
		return stage.AllApproved(), nil
	}

	// Sequential: one eligible approval resolves the stage.
	if entry != nil {
		entry.Status = repository.ApproverApproved
		entry.ActedAt = &now
	}
	return true, nil
}

// applyDelegate hands the actor's pending approval to another identity. The
// original approver stays in history; the stage deadline is preserved.
func (s *ApprovalRoutingService) applyDelegate(stage *repository.ApprovalStage, actor authz.Actor, delegateTo string) error {
	entry := stage.FindApprover(actor.ID)
	if entry == nil {
		// Role-eligible approver with no listed entry: delegation creates
		// the delegate's entry directly.
		from := actor.ID
		stage.Approvers = append(stage.Approvers, repository.StageApprover{
			UserID:        delegateTo,
			Role:          string(actor.Role),
			Status:        repository.ApproverPending,
			DelegatedFrom: &from,
		})
		return nil
	}
	if entry.Status != repository.ApproverPending {
		return errors.New(errors.ErrCodeConflict, "only a pending approval can be delegated")
	}
	from := actor.ID
	entry.UserID = delegateTo
	entry.DelegatedFrom = &from
	return nil
}

func approverIDs(stage *repository.ApprovalStage) []string {
	ids := make([]string, 0, len(stage.Approvers))
	for _, a := range stage.Approvers {
		if a.Status == repository.ApproverPending {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}
