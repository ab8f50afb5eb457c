package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

var (
	mgmtActor = authz.Actor{ID: "mgr-1", Role: authz.RoleManagement, OrganizationID: "org-1"}
	techActor = authz.Actor{ID: "tech-1", Role: authz.RoleTechnician, OrganizationID: "org-1"}
	tenActor  = authz.Actor{ID: "ten-1", Role: authz.RoleTenant, OrganizationID: "org-1"}
)

func baseWorkOrder(status repository.WorkOrderStatus) *repository.WorkOrder {
	return &repository.WorkOrder{
		ID:             "wo-1",
		OrganizationID: "org-1",
		PropertyID:     "prop-1",
		OwnerID:        "owner-1",
		Title:          "Leaking faucet",
		Category:       "PLUMBING",
		Status:         status,
		Currency:       "USD",
		CreatedBy:      "ten-1",
	}
}

func newWorkOrderService(store *fakeWorkOrderStore, gate ApprovalGate) (*WorkOrderService, *mockFinancePoster, *recordingDispatcher) {
	finance := &mockFinancePoster{}
	dispatcher := &recordingDispatcher{}
	if gate == nil {
		gate = &stubGate{}
	}
	return NewWorkOrderService(store, finance, gate, dispatcher, testLogger()), finance, dispatcher
}

func TestCreateWorkOrder(t *testing.T) {
	store := newFakeWorkOrderStore(nil)
	svc, _, _ := newWorkOrderService(store, nil)

	wo, err := svc.CreateWorkOrder(context.Background(), testScope(), tenActor, authz.PlanStarter, &CreateWorkOrderRequest{
		PropertyID: "prop-1",
		OwnerID:    "owner-1",
		Title:      "Broken heater",
		Category:   "HVAC",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusDraft, wo.Status)
	assert.Equal(t, "org-1", wo.OrganizationID)
	assert.Equal(t, "ten-1", wo.CreatedBy)
	assert.Equal(t, "USD", wo.Currency)
}

func TestCreateWorkOrderDeniesGuest(t *testing.T) {
	store := newFakeWorkOrderStore(nil)
	svc, _, _ := newWorkOrderService(store, nil)

	guest := authz.Actor{ID: "g-1", Role: authz.RoleGuest, OrganizationID: "org-1"}
	_, err := svc.CreateWorkOrder(context.Background(), testScope(), guest, authz.PlanEnterprise, &CreateWorkOrderRequest{
		PropertyID: "prop-1", Title: "x", Category: "OTHER",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
}

func TestTransitionUnknownEdge(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusDraft))
	svc, _, _ := newWorkOrderService(store, nil)

	_, err := svc.Transition(context.Background(), testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusInProgress, "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.Code(err))
	assert.Equal(t, repository.StatusDraft, store.wo.Status)
}

func TestTransitionRoleDenied(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusSubmitted))
	svc, _, _ := newWorkOrderService(store, nil)

	// A tenant cannot drive the assessment edge.
	_, err := svc.Transition(context.Background(), testScope(), tenActor, authz.PlanEnterprise,
		"wo-1", repository.StatusAssessment, "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
}

func TestTransitionGuardBlocksUntilEvidence(t *testing.T) {
	wo := baseWorkOrder(repository.StatusSubmitted)
	store := newFakeWorkOrderStore(wo)
	svc, _, _ := newWorkOrderService(store, nil)
	ctx := context.Background()

	// No technician, no BEFORE photo: the guard rejects and the status holds.
	_, err := svc.Transition(ctx, testScope(), techActor, authz.PlanEnterprise,
		"wo-1", repository.StatusAssessment, "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeGuardNotSatisfied, errors.Code(err))
	assert.Equal(t, repository.StatusSubmitted, wo.Status)

	tech := "tech-1"
	wo.TechnicianID = &tech

	// Technician alone is not enough.
	_, err = svc.Transition(ctx, testScope(), techActor, authz.PlanEnterprise,
		"wo-1", repository.StatusAssessment, "req-2", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeGuardNotSatisfied, errors.Code(err))

	wo.Attachments = append(wo.Attachments, repository.Attachment{Tag: repository.TagBefore})

	record, err := svc.Transition(ctx, testScope(), techActor, authz.PlanEnterprise,
		"wo-1", repository.StatusAssessment, "req-3", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusAssessment, record.WorkOrder.Status)
	assert.Equal(t, repository.StatusSubmitted, record.Entry.FromStatus)
}

func TestTransitionReplayReturnsPriorOutcome(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusDraft))
	svc, _, dispatcher := newWorkOrderService(store, nil)
	ctx := context.Background()

	first, err := svc.Transition(ctx, testScope(), tenActor, authz.PlanStarter,
		"wo-1", repository.StatusSubmitted, "req-1", nil)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Len(t, dispatcher.events, 1)

	second, err := svc.Transition(ctx, testScope(), tenActor, authz.PlanStarter,
		"wo-1", repository.StatusSubmitted, "req-1", nil)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry, second.Entry)
	// Replays do not dispatch again.
	assert.Len(t, dispatcher.events, 1)
	assert.Len(t, store.history, 1)
}

func TestTransitionApprovalGate(t *testing.T) {
	gate := &stubGate{approved: false}
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusApprovalPending))
	svc, _, _ := newWorkOrderService(store, gate)
	ctx := context.Background()

	_, err := svc.Transition(ctx, testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApproved, "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeGuardNotSatisfied, errors.Code(err))

	gate.approved = true
	record, err := svc.Transition(ctx, testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApproved, "req-2", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, record.WorkOrder.Status)
}

func TestTransitionIntoApprovalPendingOpensWorkflow(t *testing.T) {
	wo := baseWorkOrder(repository.StatusQuotationReview)
	wo.CostEstimate = 1_500_00
	gate := &stubGate{}
	store := newFakeWorkOrderStore(wo)
	svc, _, _ := newWorkOrderService(store, gate)

	_, err := svc.Transition(context.Background(), testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApprovalPending, "req-1", nil)
	require.NoError(t, err)

	require.Len(t, gate.routed, 1)
	req := gate.routed[0]
	assert.Equal(t, repository.EntityWorkOrder, req.EntityType)
	assert.Equal(t, "wo-1", req.EntityID)
	assert.Equal(t, int64(1_500_00), req.Amount)
	assert.Equal(t, "PLUMBING", req.Category)
	assert.Equal(t, "mgr-1", req.RequestedBy)
}

func TestTransitionApprovalRoutingIsReplaySafe(t *testing.T) {
	routing, workflows, _, _ := newRoutingService(nil)
	wo := baseWorkOrder(repository.StatusQuotationReview)
	wo.CostEstimate = 1_500_00
	store := newFakeWorkOrderStore(wo)
	svc, _, _ := newWorkOrderService(store, routing)
	ctx := context.Background()

	first, err := svc.Transition(ctx, testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApprovalPending, "req-1", nil)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	require.Len(t, workflows.workflows, 1)

	// The replay sees the open workflow and leaves it alone.
	second, err := svc.Transition(ctx, testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApprovalPending, "req-1", nil)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Len(t, workflows.workflows, 1)
}

func TestTransitionRoutingFailureIsRetryable(t *testing.T) {
	wo := baseWorkOrder(repository.StatusQuotationReview)
	wo.CostEstimate = 100_00
	gate := &stubGate{routeErr: errors.New(errors.ErrCodeInternal, "routing store down")}
	store := newFakeWorkOrderStore(wo)
	svc, _, _ := newWorkOrderService(store, gate)
	ctx := context.Background()

	_, err := svc.Transition(ctx, testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApprovalPending, "req-1", nil)
	require.Error(t, err)
	// The transition itself committed; only the routing failed.
	assert.Equal(t, repository.StatusApprovalPending, wo.Status)

	gate.routeErr = nil
	record, err := svc.Transition(ctx, testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusApprovalPending, "req-1", nil)
	require.NoError(t, err)
	assert.True(t, record.Replayed)
	require.Len(t, gate.routed, 1)
}

func TestTransitionClosurePostsFinance(t *testing.T) {
	wo := baseWorkOrder(repository.StatusVerified)
	wo.ActualCost = 42_00
	store := newFakeWorkOrderStore(wo)
	svc, finance, dispatcher := newWorkOrderService(store, nil)

	finance.On("PostClosure", mock.Anything, mock.Anything, wo).Return(nil).Once()

	record, err := svc.Transition(context.Background(), testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusClosed, "req-1", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusClosed, record.WorkOrder.Status)
	assert.Contains(t, dispatcher.events, EventWorkOrderClosed)
	finance.AssertExpectations(t)
}

func TestTransitionFinanceFailureAbortsClosure(t *testing.T) {
	wo := baseWorkOrder(repository.StatusVerified)
	wo.ActualCost = 42_00
	store := newFakeWorkOrderStore(wo)
	svc, finance, dispatcher := newWorkOrderService(store, nil)

	finance.On("PostClosure", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeInternal, "ledger unavailable")).Once()

	_, err := svc.Transition(context.Background(), testScope(), mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusClosed, "req-1", nil)
	require.Error(t, err)
	assert.Empty(t, dispatcher.events)
	assert.Empty(t, store.history)
}

func TestTransitionCrossTenantLooksLikeNotFound(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusDraft))
	svc, _, _ := newWorkOrderService(store, nil)

	otherScope := tenant.MustScope("org-2")
	_, err := svc.Transition(context.Background(), otherScope, mgmtActor, authz.PlanEnterprise,
		"wo-1", repository.StatusSubmitted, "req-1", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestAssignVendorRejectsCrossTenantProvider(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusApproved))
	store.providers["v-out"] = &repository.ServiceProvider{
		ID: "v-out", OrganizationID: "org-2", Kind: "vendor", Name: "Outside Plumbing",
	}
	store.providers["v-in"] = &repository.ServiceProvider{
		ID: "v-in", OrganizationID: "org-1", Kind: "vendor", Name: "In-House Plumbing",
	}
	svc, _, _ := newWorkOrderService(store, nil)
	ctx := context.Background()

	err := svc.AssignVendor(ctx, testScope(), mgmtActor, authz.PlanEnterprise, "wo-1", "v-out")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCrossTenantReference, errors.Code(err))
	assert.Nil(t, store.wo.VendorID)

	require.NoError(t, svc.AssignVendor(ctx, testScope(), mgmtActor, authz.PlanEnterprise, "wo-1", "v-in"))
	require.NotNil(t, store.wo.VendorID)
	assert.Equal(t, "v-in", *store.wo.VendorID)
}

func TestAssignTechnicianRejectsWrongKind(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusApproved))
	store.providers["v-1"] = &repository.ServiceProvider{
		ID: "v-1", OrganizationID: "org-1", Kind: "vendor",
	}
	svc, _, _ := newWorkOrderService(store, nil)

	err := svc.AssignTechnician(context.Background(), testScope(), mgmtActor, authz.PlanEnterprise, "wo-1", "v-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
}

func TestAddAttachment(t *testing.T) {
	store := newFakeWorkOrderStore(baseWorkOrder(repository.StatusSubmitted))
	svc, _, _ := newWorkOrderService(store, nil)
	ctx := context.Background()

	att, err := svc.AddAttachment(ctx, testScope(), techActor, authz.PlanStarter,
		"wo-1", repository.TagBefore, "https://cdn.example.com/before.jpg")
	require.NoError(t, err)
	assert.Equal(t, repository.TagBefore, att.Tag)
	assert.Equal(t, "tech-1", att.UploadedBy)
	assert.True(t, store.wo.HasAttachment(repository.TagBefore))

	_, err = svc.AddAttachment(ctx, testScope(), techActor, authz.PlanStarter,
		"wo-1", repository.AttachmentTag("DURING"), "https://cdn.example.com/x.jpg")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))

	// A tenant holds no upload grant on tracking.
	_, err = svc.AddAttachment(ctx, testScope(), tenActor, authz.PlanStarter,
		"wo-1", repository.TagBefore, "https://cdn.example.com/y.jpg")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.Code(err))
}

func TestFullLifecycle(t *testing.T) {
	wo := baseWorkOrder(repository.StatusDraft)
	gate := &stubGate{approved: true}
	store := newFakeWorkOrderStore(wo)
	svc, finance, _ := newWorkOrderService(store, gate)
	finance.On("PostClosure", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	ctx := context.Background()
	scope := testScope()
	owner := authz.Actor{ID: "owner-1", Role: authz.RolePropertyOwner, OrganizationID: "org-1"}
	tech := "tech-1"

	steps := []struct {
		actor  authz.Actor
		target repository.WorkOrderStatus
		prep   func()
	}{
		{tenActor, repository.StatusSubmitted, nil},
		{techActor, repository.StatusAssessment, func() {
			wo.TechnicianID = &tech
			wo.Attachments = append(wo.Attachments, repository.Attachment{Tag: repository.TagBefore})
		}},
		{techActor, repository.StatusEstimatePending, func() {
			wo.AssessmentNotes = strPtr("corroded pipe joint")
		}},
		{mgmtActor, repository.StatusQuotationReview, nil},
		{mgmtActor, repository.StatusApprovalPending, func() { wo.CostEstimate = 150_00 }},
		{owner, repository.StatusApproved, nil},
		{mgmtActor, repository.StatusAssigned, nil},
		{techActor, repository.StatusInProgress, nil},
		{techActor, repository.StatusWorkComplete, func() {
			wo.Attachments = append(wo.Attachments, repository.Attachment{Tag: repository.TagAfter})
		}},
		{techActor, repository.StatusQualityCheck, func() {
			wo.SolutionNotes = strPtr("replaced joint and resealed")
		}},
		{mgmtActor, repository.StatusFinancialPosting, func() { wo.ActualCost = 140_00 }},
		{mgmtActor, repository.StatusCompleted, nil},
		{owner, repository.StatusVerified, nil},
		{mgmtActor, repository.StatusClosed, nil},
	}

	for i, step := range steps {
		if step.prep != nil {
			step.prep()
		}
		_, err := svc.Transition(ctx, scope, step.actor, authz.PlanEnterprise,
			"wo-1", step.target, fmt.Sprintf("req-%d", i), nil)
		require.NoErrorf(t, err, "step %d to %s", i, step.target)
		require.Equal(t, step.target, wo.Status)
	}

	assert.Len(t, store.history, len(steps))
	finance.AssertExpectations(t)
}
