package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newRoutingService(directory DirectoryClient) (*ApprovalRoutingService, *fakeWorkflowStore, *fakeRuleStore, *relaxedNotifier) {
	workflows := newFakeWorkflowStore()
	rules := &fakeRuleStore{}
	notifier := &relaxedNotifier{}
	if directory == nil {
		directory = &staticDirectory{usersByRole: map[string][]string{
			string(authz.RolePropertyOwner): {"owner-1"},
			string(authz.RoleOwnerDeputy):   {"dep-1"},
			string(authz.RoleManagement):    {"mgr-1"},
			string(authz.RoleFinance):       {"fin-1", "fin-2", "fin-3"},
		}}
	}
	svc := NewApprovalRoutingService(rules, workflows, &fakeHistoryStore{store: workflows}, directory, notifier, testLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc, workflows, rules, notifier
}

func routeQuotation(t *testing.T, svc *ApprovalRoutingService, amount int64, category string) *repository.ApprovalWorkflow {
	t.Helper()
	wf, err := svc.Route(context.Background(), testScope(), &RouteRequest{
		EntityType:  repository.EntityQuotation,
		EntityID:    "q-1",
		Amount:      amount,
		Category:    category,
		RequestedBy: "req-1",
	})
	require.NoError(t, err)
	return wf
}

func TestRouteFlaggedMidRange(t *testing.T) {
	svc, workflows, _, notifier := newRoutingService(nil)

	// 1,500.00 in a flagged category routes through owner then management.
	wf := routeQuotation(t, svc, 1_500_00, "PLUMBING")

	assert.Equal(t, repository.WorkflowPending, wf.Status)
	assert.Equal(t, 0, wf.CurrentStage)
	assert.Equal(t, 2, wf.TotalStages)

	stages := workflows.stages[wf.ID]
	require.Len(t, stages, 2)

	first := stages[0]
	assert.Equal(t, repository.StageSequential, first.Mode)
	assert.Equal(t, []string{string(authz.RolePropertyOwner)}, first.EligibleRoles)
	assert.Equal(t, fixedNow.Add(48*time.Hour), first.Deadline)
	require.NotNil(t, first.EscalateTo)
	assert.Equal(t, string(authz.RoleOwnerDeputy), *first.EscalateTo)
	require.Len(t, first.Approvers, 1)
	assert.Equal(t, "owner-1", first.Approvers[0].UserID)

	second := stages[1]
	assert.Equal(t, []string{string(authz.RoleManagement)}, second.EligibleRoles)

	assert.Equal(t, []string{repository.HistoryRouted}, workflows.historyActions(wf.ID))
	assert.Equal(t, []EventType{EventApprovalRequested}, notifier.events)
}

func TestRouteMinorWorksSingleStage(t *testing.T) {
	svc, workflows, _, _ := newRoutingService(nil)

	wf := routeQuotation(t, svc, 800_00, "OTHER")
	assert.Equal(t, 1, wf.TotalStages)

	stage := workflows.stages[wf.ID][0]
	assert.Equal(t, fixedNow.Add(24*time.Hour), stage.Deadline)
	require.NotNil(t, stage.EscalateTo)
	assert.Equal(t, string(authz.RoleManagement), *stage.EscalateTo)
}

func TestRoutePrefersOrganizationRules(t *testing.T) {
	svc, workflows, rules, _ := newRoutingService(nil)
	ceiling := int64(50_000_00)
	rules.rules = append(rules.rules, &repository.ApprovalRule{
		ID:        "rule-org",
		Name:      "org-custom",
		MaxAmount: &ceiling,
		Stages: []repository.RuleStage{
			{Mode: repository.StageSequential, Roles: []string{string(authz.RoleFinance)}, TimeoutHours: 12},
		},
		IsActive: true,
	})

	wf := routeQuotation(t, svc, 1_500_00, "PLUMBING")
	require.NotNil(t, wf.RuleID)
	assert.Equal(t, "rule-org", *wf.RuleID)
	assert.Equal(t, 1, wf.TotalStages)
	assert.Equal(t, []string{string(authz.RoleFinance)}, workflows.stages[wf.ID][0].EligibleRoles)
}

func TestRouteValidation(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)
	ctx := context.Background()

	_, err := svc.Route(ctx, testScope(), &RouteRequest{
		EntityType: "timesheet", EntityID: "t-1", Amount: 100, RequestedBy: "u",
	})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))

	_, err = svc.Route(ctx, testScope(), &RouteRequest{
		EntityType: repository.EntityQuotation, EntityID: "q-1", Amount: 0, RequestedBy: "u",
	})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
}

func TestRouteRejectsDuplicatePendingWorkflow(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)

	routeQuotation(t, svc, 800_00, "OTHER")
	_, err := svc.Route(context.Background(), testScope(), &RouteRequest{
		EntityType: repository.EntityQuotation, EntityID: "q-1", Amount: 900_00, RequestedBy: "req-1",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestDecideSequentialAdvancesAndCompletes(t *testing.T) {
	svc, workflows, _, notifier := newRoutingService(nil)
	wf := routeQuotation(t, svc, 1_500_00, "PLUMBING")
	ctx := context.Background()

	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	wf, err := svc.Decide(ctx, testScope(), wf.ID, owner, DecisionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowPending, wf.Status)
	assert.Equal(t, 1, wf.CurrentStage)
	assert.Equal(t, repository.StageApproved, workflows.stages[wf.ID][0].Status)

	mgr := authz.Actor{ID: "mgr-1", Role: authz.RoleManagement, OrganizationID: "org-1"}
	wf, err = svc.Decide(ctx, testScope(), wf.ID, mgr, DecisionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, wf.Status)
	require.NotNil(t, wf.CompletedAt)

	assert.Equal(t, []string{
		repository.HistoryRouted, repository.HistoryApproved, repository.HistoryApproved,
	}, workflows.historyActions(wf.ID))
	assert.Equal(t, EventApprovalApproved, notifier.events[len(notifier.events)-1])

	approved, err := svc.EntityApproved(ctx, testScope(), repository.EntityQuotation, "q-1")
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestDecideParallelStageNeedsEveryApprover(t *testing.T) {
	svc, workflows, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 50_000_00, "OTHER") // major-works
	ctx := context.Background()

	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	mgr := authz.Actor{ID: "mgr-1", Role: authz.RoleManagement, OrganizationID: "org-1"}
	_, err := svc.Decide(ctx, testScope(), wf.ID, owner, DecisionApprove, "", nil)
	require.NoError(t, err)
	_, err = svc.Decide(ctx, testScope(), wf.ID, mgr, DecisionApprove, "", nil)
	require.NoError(t, err)

	// Now on the parallel finance stage with three listed approvers.
	finStage := workflows.stages[wf.ID][2]
	require.Equal(t, repository.StageParallel, finStage.Mode)
	require.Len(t, finStage.Approvers, 3)

	fin1 := authz.Actor{ID: "fin-1", Role: authz.RoleFinance, OrganizationID: "org-1"}
	fin2 := authz.Actor{ID: "fin-2", Role: authz.RoleFinance, OrganizationID: "org-1"}
	fin3 := authz.Actor{ID: "fin-3", Role: authz.RoleFinance, OrganizationID: "org-1"}

	wf, err = svc.Decide(ctx, testScope(), wf.ID, fin1, DecisionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowPending, wf.Status)

	// Double approval by the same approver is rejected.
	_, err = svc.Decide(ctx, testScope(), wf.ID, fin1, DecisionApprove, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	wf, err = svc.Decide(ctx, testScope(), wf.ID, fin2, DecisionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowPending, wf.Status)

	wf, err = svc.Decide(ctx, testScope(), wf.ID, fin3, DecisionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, wf.Status)
}

func TestDecideRejectHaltsWorkflow(t *testing.T) {
	svc, workflows, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 1_500_00, "PLUMBING")
	ctx := context.Background()

	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	wf, err := svc.Decide(ctx, testScope(), wf.ID, owner, DecisionReject, "", strPtr("too expensive"))
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowRejected, wf.Status)

	// Any further decision fails.
	mgr := authz.Actor{ID: "mgr-1", Role: authz.RoleManagement, OrganizationID: "org-1"}
	_, err = svc.Decide(ctx, testScope(), wf.ID, mgr, DecisionApprove, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	assert.Contains(t, workflows.historyActions(wf.ID), repository.HistoryRejected)

	approved, err := svc.EntityApproved(ctx, testScope(), repository.EntityQuotation, "q-1")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestDecideIneligibleActor(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 1_500_00, "PLUMBING")

	// First stage is owner-only; a finance user is neither listed nor
	// role-eligible.
	fin := authz.Actor{ID: "fin-9", Role: authz.RoleFinance, OrganizationID: "org-1"}
	_, err := svc.Decide(context.Background(), testScope(), wf.ID, fin, DecisionApprove, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStageMismatch, errors.Code(err))
}

func TestDecideSelfApprovalDenied(t *testing.T) {
	svc, _, _, _ := newRoutingService(&staticDirectory{usersByRole: map[string][]string{
		string(authz.RolePropertyOwner): {"req-1"},
	}})
	wf := routeQuotation(t, svc, 800_00, "OTHER")

	requester := authz.Actor{ID: "req-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	_, err := svc.Decide(context.Background(), testScope(), wf.ID, requester, DecisionApprove, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
}

func TestDelegatePreservesDeadline(t *testing.T) {
	svc, workflows, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 800_00, "OTHER")
	ctx := context.Background()

	before := workflows.stages[wf.ID][0].Deadline

	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	wf, err := svc.Decide(ctx, testScope(), wf.ID, owner, DecisionDelegate, "dep-1", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowPending, wf.Status)

	stage := workflows.stages[wf.ID][0]
	assert.Equal(t, before, stage.Deadline, "delegation must not reset the stage deadline")

	entry := stage.FindApprover("dep-1")
	require.NotNil(t, entry)
	require.NotNil(t, entry.DelegatedFrom)
	assert.Equal(t, "owner-1", *entry.DelegatedFrom)
	assert.Nil(t, stage.FindApprover("owner-1"))

	// The delegate can now approve even without holding the stage role.
	deputy := authz.Actor{ID: "dep-1", Role: authz.RoleOwnerDeputy, OrganizationID: "org-1"}
	wf, err = svc.Decide(ctx, testScope(), wf.ID, deputy, DecisionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowApproved, wf.Status)

	assert.Contains(t, workflows.historyActions(wf.ID), repository.HistoryDelegated)
}

func TestDelegateRequiresTarget(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 800_00, "OTHER")

	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	_, err := svc.Decide(context.Background(), testScope(), wf.ID, owner, DecisionDelegate, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
}

func TestCancelWorkflow(t *testing.T) {
	svc, workflows, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 800_00, "OTHER")
	ctx := context.Background()

	// Only the requester may cancel.
	other := authz.Actor{ID: "someone", Role: authz.RoleManagement, OrganizationID: "org-1"}
	_, err := svc.Cancel(ctx, testScope(), wf.ID, other, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))

	requester := authz.Actor{ID: "req-1", Role: authz.RoleTenant, OrganizationID: "org-1"}
	wf, err = svc.Cancel(ctx, testScope(), wf.ID, requester, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowCancelled, wf.Status)
	assert.Contains(t, workflows.historyActions(wf.ID), repository.HistoryCancelled)
}

func TestDecideCrossTenantWorkflowHidden(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 800_00, "OTHER")

	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-2"}
	otherScope := tenant.MustScope("org-2")
	_, err := svc.Decide(context.Background(), otherScope, wf.ID, owner, DecisionApprove, "", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeWorkflowNotFound, errors.Code(err))
}

func TestGetPendingApprovals(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)
	wf := routeQuotation(t, svc, 800_00, "OTHER")

	pending, err := svc.GetPendingApprovals(context.Background(), testScope(), "owner-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wf.ID, pending[0].WorkflowID)

	pending, err = svc.GetPendingApprovals(context.Background(), testScope(), "stranger")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRuleAdministration(t *testing.T) {
	svc, _, _, _ := newRoutingService(nil)
	ctx := context.Background()
	mgr := authz.Actor{ID: "mgr-1", Role: authz.RoleManagement, OrganizationID: "org-1"}
	tech := authz.Actor{ID: "tech-1", Role: authz.RoleTechnician, OrganizationID: "org-1"}

	rule := &repository.ApprovalRule{
		Name: "custom",
		Stages: []repository.RuleStage{
			{Mode: repository.StageSequential, Roles: []string{string(authz.RoleFinance)}, TimeoutHours: 24},
		},
	}
	require.Error(t, svc.CreateRule(ctx, testScope(), tech, rule))
	require.NoError(t, svc.CreateRule(ctx, testScope(), mgr, rule))
	assert.True(t, rule.IsActive)

	listed, err := svc.ListRules(ctx, testScope())
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, svc.DeactivateRule(ctx, testScope(), mgr, rule.ID))
	listed, err = svc.ListRules(ctx, testScope())
	require.NoError(t, err)
	assert.Empty(t, listed)
}
