package service

import (
	"context"
	"time"

	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// ScanLock serializes the timeout scan across engine instances.
type ScanLock interface {
	// TryAcquire returns true when this instance holds the lock.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string)
}

const (
	escalationLockKey = "fm:approval:escalation-scan"

	// escalationWindow is how long an escalated stage stays open before the
	// next scan rejects it outright.
	escalationWindow = 24 * time.Hour

	systemActorID = "system"
)

// EscalationService walks pending workflows whose current stage deadline has
// passed and either escalates the stage or rejects the workflow.
type EscalationService struct {
	workflows WorkflowStore
	directory DirectoryClient
	notifier  ApprovalNotifier
	lock      ScanLock
	lockTTL   time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewEscalationService creates a new EscalationService.
func NewEscalationService(
	workflows WorkflowStore,
	directory DirectoryClient,
	notifier ApprovalNotifier,
	lock ScanLock,
	lockTTL time.Duration,
	log *logger.Logger,
) *EscalationService {
	return &EscalationService{
		workflows: workflows,
		directory: directory,
		notifier:  notifier,
		lock:      lock,
		lockTTL:   lockTTL,
		log:       log,
		now:       time.Now,
	}
}

// CheckTimeouts runs one scan pass and returns how many workflows it acted
// on. A single pass runs cluster-wide at a time; losing the lock race is not
// an error.
func (s *EscalationService) CheckTimeouts(ctx context.Context) (int, error) {
	acquired, err := s.lock.TryAcquire(ctx, escalationLockKey, s.lockTTL)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeTimeoutEscalation, "failed to acquire scan lock")
	}
	if !acquired {
		return 0, nil
	}
	defer s.lock.Release(ctx, escalationLockKey)

	refs, err := s.workflows.ListExpired(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeTimeoutEscalation, "failed to list expired workflows")
	}

	acted := 0
	for _, ref := range refs {
		handled, err := s.handleExpired(ctx, ref)
		if err != nil {
			// One broken workflow must not stall the rest of the scan.
			s.log.Error().Err(err).
				Str("workflow_id", ref.WorkflowID).
				Str("organization_id", ref.OrganizationID).
				Msg("Failed to process expired workflow")
			continue
		}
		if handled {
			acted++
		}
	}

	if acted > 0 {
		s.log.Info().Int("workflows", acted).Msg("Timeout scan completed")
	}
	return acted, nil
}

// handleExpired re-reads one expired workflow under its organization's scope
// and applies the escalation or timeout rejection. Reports whether anything
// was written; repeated scans over the same missed deadline are no-ops.
func (s *EscalationService) handleExpired(ctx context.Context, ref repository.ExpiredWorkflowRef) (bool, error) {
	scope, err := tenant.NewScope(ref.OrganizationID)
	if err != nil {
		return false, err
	}

	// Peek at the current stage to resolve escalation approvers before taking
	// the row lock; the decision closure re-validates everything it read.
	wf, err := s.workflows.GetByID(ctx, scope, ref.WorkflowID)
	if err != nil {
		return false, err
	}
	if wf.Status != repository.WorkflowPending {
		return false, nil
	}
	stages, err := s.workflows.GetStages(ctx, scope, ref.WorkflowID)
	if err != nil {
		return false, err
	}
	if wf.CurrentStage < 0 || wf.CurrentStage >= len(stages) {
		return false, errors.New(errors.ErrCodeInternal, "workflow current stage out of range")
	}
	current := stages[wf.CurrentStage]

	var escalationUsers []string
	var escalateRole string
	if current.EscalateTo != nil {
		escalateRole = *current.EscalateTo
		escalationUsers, err = s.directory.GetUsersWithRole(ctx, ref.OrganizationID, escalateRole)
		if err != nil {
			s.log.Warn().Err(err).Str("role", escalateRole).
				Msg("Could not resolve escalation users; escalating role-based only")
			escalationUsers = nil
		}
	}

	var notifyUsers []string
	record, err := s.workflows.ApplyDecision(ctx, scope, ref.WorkflowID, func(wf *repository.ApprovalWorkflow, stages []*repository.ApprovalStage) (*repository.ApprovalHistoryEntry, error) {
		if wf.Status != repository.WorkflowPending {
			return nil, repository.DecisionNoop()
		}
		if wf.CurrentStage < 0 || wf.CurrentStage >= len(stages) {
			return nil, errors.New(errors.ErrCodeInternal, "workflow current stage out of range")
		}
		stage := stages[wf.CurrentStage]

		now := s.now()
		deadline := stage.Deadline
		if !deadline.Before(now) {
			// The stage moved on between the scan query and the lock.
			return nil, repository.DecisionNoop()
		}
		if stage.EscalatedFor != nil && !stage.EscalatedFor.Before(deadline) {
			return nil, repository.DecisionNoop()
		}

		stageIdx := wf.CurrentStage
		entry := &repository.ApprovalHistoryEntry{
			StageIndex:  &stageIdx,
			ActorID:     systemActorID,
			DeadlineKey: &deadline,
		}

		if stage.EscalateTo == nil {
			stage.Status = repository.StageRejected
			wf.Status = repository.WorkflowRejected
			wf.CompletedAt = &now
			entry.Action = repository.HistoryTimeoutRejected
			entry.Metadata = map[string]interface{}{"reason": "TIMEOUT"}
			notifyUsers = []string{wf.RequestedBy}
			return entry, nil
		}

		s.escalateStage(stage, escalateRole, escalationUsers, deadline, now)
		entry.Action = repository.HistoryEscalated
		entry.Metadata = map[string]interface{}{
			"escalate_to":  escalateRole,
			"new_deadline": stage.Deadline,
		}
		notifyUsers = escalationUsers
		return entry, nil
	})
	if err != nil {
		return false, err
	}
	if record.Skipped {
		return false, nil
	}

	switch record.Workflow.Status {
	case repository.WorkflowRejected:
		s.log.Info().
			Str("workflow_id", record.Workflow.ID).
			Msg("Workflow rejected on timeout with no escalation path")
		s.notifier.DispatchApprovalEvent(ctx, EventApprovalRejected, record.Workflow, notifyUsers)
	default:
		s.log.Info().
			Str("workflow_id", record.Workflow.ID).
			Str("escalated_to", escalateRole).
			Msg("Stage escalated after missed deadline")
		s.notifier.DispatchApprovalEvent(ctx, EventApprovalEscalated, record.Workflow, notifyUsers)
	}
	return true, nil
}

// escalateStage widens the stage to the escalation role, adds its members as
// pending approvers, stamps the missed deadline and opens a new window.
func (s *EscalationService) escalateStage(stage *repository.ApprovalStage, role string, users []string, missed, now time.Time) {
	if !containsString(stage.EligibleRoles, role) {
		stage.EligibleRoles = append(stage.EligibleRoles, role)
	}
	for _, userID := range users {
		if stage.FindApprover(userID) != nil {
			continue
		}
		stage.Approvers = append(stage.Approvers, repository.StageApprover{
			UserID: userID,
			Role:   role,
			Status: repository.ApproverPending,
		})
	}
	escalatedFor := missed
	stage.EscalatedFor = &escalatedFor
	stage.Deadline = now.Add(escalationWindow)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
