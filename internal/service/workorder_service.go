package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// WorkOrderStore is the persistence surface the state machine drives.
// Implemented by repository.WorkOrderRepository.
type WorkOrderStore interface {
	Create(ctx context.Context, scope tenant.Scope, wo *repository.WorkOrder) error
	GetByID(ctx context.Context, scope tenant.Scope, id string) (*repository.WorkOrder, error)
	AddAttachment(ctx context.Context, scope tenant.Scope, att *repository.Attachment) error
	SetAssessmentNotes(ctx context.Context, scope tenant.Scope, id, notes string) error
	SetSolutionNotes(ctx context.Context, scope tenant.Scope, id, notes string) error
	SetCostEstimate(ctx context.Context, scope tenant.Scope, id string, amount int64) error
	SetActualCost(ctx context.Context, scope tenant.Scope, id string, amount int64, zeroCost bool) error
	AssignTechnician(ctx context.Context, scope tenant.Scope, id, technicianID string) error
	AssignVendor(ctx context.Context, scope tenant.Scope, id, vendorID string) error
	GetProvider(ctx context.Context, id string) (*repository.ServiceProvider, error)
	ApplyTransition(ctx context.Context, scope tenant.Scope, workOrderID, requestID string,
		apply repository.TransitionApplyFunc, post repository.TransitionPostFunc) (*repository.TransitionRecord, error)
	History(ctx context.Context, scope tenant.Scope, workOrderID string) ([]*repository.WorkOrderHistoryEntry, error)
}

// FinancePoster posts closure records inside the transition's transaction.
type FinancePoster interface {
	PostClosure(ctx context.Context, tx pgx.Tx, wo *repository.WorkOrder) error
}

// ApprovalGate is the slice of the approval engine the state machine needs:
// opening a workflow when a work order is submitted for approval, and
// checking the outcome before the approved edge commits.
type ApprovalGate interface {
	Route(ctx context.Context, scope tenant.Scope, req *RouteRequest) (*repository.ApprovalWorkflow, error)
	EntityApproved(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (bool, error)
}

// EventDispatcher fans a lifecycle event out to notification channels.
// Dispatch never returns an error: delivery failures are logged downstream.
type EventDispatcher interface {
	DispatchWorkOrderEvent(ctx context.Context, event EventType, wo *repository.WorkOrder, actor authz.Actor)
}

// WorkOrderService drives the guarded work-order lifecycle.
type WorkOrderService struct {
	store      WorkOrderStore
	finance    FinancePoster
	gate       ApprovalGate
	dispatcher EventDispatcher
	log        *logger.Logger
}

// NewWorkOrderService creates a new WorkOrderService.
func NewWorkOrderService(
	store WorkOrderStore,
	finance FinancePoster,
	gate ApprovalGate,
	dispatcher EventDispatcher,
	log *logger.Logger,
) *WorkOrderService {
	return &WorkOrderService{
		store:      store,
		finance:    finance,
		gate:       gate,
		dispatcher: dispatcher,
		log:        log,
	}
}

// CreateWorkOrderRequest carries the fields for a new DRAFT work order.
type CreateWorkOrderRequest struct {
	PropertyID     string
	OwnerID        string
	UnitID         *string
	Title          string
	Description    *string
	Category       string
	TenantID       *string
	ChargeToTenant bool
	Currency       string
}

// CreateWorkOrder creates a work order in DRAFT after an authorization check.
func (s *WorkOrderService) CreateWorkOrder(
	ctx context.Context,
	scope tenant.Scope,
	actor authz.Actor,
	plan authz.Plan,
	req *CreateWorkOrderRequest,
) (*repository.WorkOrder, error) {
	rc := authz.ResourceContext{OrganizationID: scope.OrganizationID(), OwnerID: req.OwnerID}
	if !authz.Can(actor, plan, authz.ModuleWorkOrderCreate, authz.ActionCreate, rc) {
		return nil, errors.Unauthorized("not allowed to create work orders")
	}
	if req.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if req.PropertyID == "" {
		return nil, errors.InvalidInput("property_id", "property id is required")
	}
	if req.Category == "" {
		return nil, errors.InvalidInput("category", "category is required")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	wo := &repository.WorkOrder{
		PropertyID:     req.PropertyID,
		OwnerID:        req.OwnerID,
		UnitID:         req.UnitID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		TenantID:       req.TenantID,
		ChargeToTenant: req.ChargeToTenant,
		Currency:       req.Currency,
		CreatedBy:      actor.ID,
	}
	if err := s.store.Create(ctx, scope, wo); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("work_order_id", wo.ID).
		Str("organization_id", wo.OrganizationID).
		Str("category", wo.Category).
		Msg("Work order created")

	return wo, nil
}

// Transition attempts one state-machine edge. The change is all-or-nothing:
// the work order row is locked, the edge and its guards are validated, the
// status commit and history append happen in one transaction, and finance
// posting (where the edge demands it) joins that transaction. requestID makes
// the call replay-safe: resubmitting the same request returns the original
// outcome without a second commit.
func (s *WorkOrderService) Transition(
	ctx context.Context,
	scope tenant.Scope,
	actor authz.Actor,
	plan authz.Plan,
	workOrderID string,
	target repository.WorkOrderStatus,
	requestID string,
	note *string,
) (*repository.TransitionRecord, error) {
	var matched *transitionDef

	apply := func(wo *repository.WorkOrder) (*repository.WorkOrderHistoryEntry, error) {
		def := findTransition(wo.Status, target)
		if def == nil {
			return nil, errors.InvalidTransition(string(wo.Status), string(target))
		}

		if !def.allowsRole(actor.Role) {
			return nil, errors.Unauthorized("role " + string(actor.Role) + " may not perform this transition")
		}
		rc := authz.ResourceContext{
			OrganizationID: wo.OrganizationID,
			PropertyID:     wo.PropertyID,
			OwnerID:        wo.OwnerID,
			State:          string(wo.Status),
		}
		if !authz.Can(actor, plan, def.Module, def.Action, rc) {
			return nil, errors.Unauthorized("permission denied for this transition")
		}

		for _, guard := range def.Guards {
			if err := guard(wo); err != nil {
				return nil, err
			}
		}

		if def.RequiresApproval {
			approved, err := s.gate.EntityApproved(ctx, scope, repository.EntityWorkOrder, wo.ID)
			if err != nil {
				return nil, err
			}
			if !approved {
				return nil, errors.GuardNotSatisfied("approval workflow has not approved this work order")
			}
		}

		from := wo.Status
		wo.Status = target
		matched = def

		return &repository.WorkOrderHistoryEntry{
			FromStatus: from,
			ToStatus:   target,
			ActorID:    actor.ID,
			ActorRole:  string(actor.Role),
			Note:       note,
		}, nil
	}

	post := func(ctx context.Context, tx pgx.Tx, wo *repository.WorkOrder) error {
		if matched != nil && matched.Finance {
			return s.finance.PostClosure(ctx, tx, wo)
		}
		return nil
	}

	record, err := s.store.ApplyTransition(ctx, scope, workOrderID, requestID, apply, post)
	if err != nil {
		return nil, err
	}

	if record.Replayed {
		s.log.Debug().
			Str("work_order_id", workOrderID).
			Str("request_id", requestID).
			Msg("Transition replayed, returning prior outcome")
		return record, nil
	}

	s.log.Info().
		Str("work_order_id", workOrderID).
		Str("from", string(record.Entry.FromStatus)).
		Str("to", string(record.Entry.ToStatus)).
		Str("actor_id", actor.ID).
		Msg("Work order transitioned")

	if matched != nil {
		for _, event := range matched.Events {
			s.dispatcher.DispatchWorkOrderEvent(ctx, event, record.WorkOrder, actor)
		}
	}

	// Entering APPROVAL_PENDING opens the approval workflow from the work
	// order's own estimate and category. Runs after the commit, so a routing
	// failure leaves the work order pending and the caller retries the same
	// request; an already-open workflow makes the retry a no-op.
	if record.WorkOrder.Status == repository.StatusApprovalPending {
		if err := s.routeApproval(ctx, scope, actor, record.WorkOrder); err != nil {
			return nil, err
		}
	}

	return record, nil
}

func (s *WorkOrderService) routeApproval(ctx context.Context, scope tenant.Scope, actor authz.Actor, wo *repository.WorkOrder) error {
	_, err := s.gate.Route(ctx, scope, &RouteRequest{
		EntityType:  repository.EntityWorkOrder,
		EntityID:    wo.ID,
		Amount:      wo.CostEstimate,
		Currency:    wo.Currency,
		Category:    wo.Category,
		RequestedBy: actor.ID,
	})
	if err != nil && errors.Code(err) != errors.ErrCodeConflict {
		return err
	}
	return nil
}

// AssignTechnician links a technician after cross-organization validation.
func (s *WorkOrderService) AssignTechnician(
	ctx context.Context,
	scope tenant.Scope,
	actor authz.Actor,
	plan authz.Plan,
	workOrderID, technicianID string,
) error {
	return s.assignProvider(ctx, scope, actor, plan, workOrderID, technicianID, "technician")
}

// AssignVendor links a vendor after cross-organization validation.
func (s *WorkOrderService) AssignVendor(
	ctx context.Context,
	scope tenant.Scope,
	actor authz.Actor,
	plan authz.Plan,
	workOrderID, vendorID string,
) error {
	return s.assignProvider(ctx, scope, actor, plan, workOrderID, vendorID, "vendor")
}

func (s *WorkOrderService) assignProvider(
	ctx context.Context,
	scope tenant.Scope,
	actor authz.Actor,
	plan authz.Plan,
	workOrderID, providerID, kind string,
) error {
	wo, err := s.store.GetByID(ctx, scope, workOrderID)
	if err != nil {
		return err
	}

	rc := authz.ResourceContext{OrganizationID: wo.OrganizationID, OwnerID: wo.OwnerID}
	if !authz.Can(actor, plan, authz.ModuleWorkOrderTracking, authz.ActionAssign, rc) {
		return errors.Unauthorized("not allowed to assign on work orders")
	}

	provider, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}
	if provider.Kind != kind {
		return errors.InvalidInput("provider_id", "provider is not a "+kind)
	}
	if err := tenant.SameOrg("work_order", wo.OrganizationID, "service_provider", provider.OrganizationID); err != nil {
		return err
	}

	if kind == "vendor" {
		err = s.store.AssignVendor(ctx, scope, workOrderID, providerID)
	} else {
		err = s.store.AssignTechnician(ctx, scope, workOrderID, providerID)
	}
	if err != nil {
		return err
	}

	s.log.Info().
		Str("work_order_id", workOrderID).
		Str("provider_id", providerID).
		Str("kind", kind).
		Msg("Provider assigned to work order")
	return nil
}

// AddAttachment records an evidentiary attachment.
func (s *WorkOrderService) AddAttachment(
	ctx context.Context,
	scope tenant.Scope,
	actor authz.Actor,
	plan authz.Plan,
	workOrderID string,
	tag repository.AttachmentTag,
	url string,
) (*repository.Attachment, error) {
	wo, err := s.store.GetByID(ctx, scope, workOrderID)
	if err != nil {
		return nil, err
	}
	rc := authz.ResourceContext{OrganizationID: wo.OrganizationID, OwnerID: wo.OwnerID}
	if !authz.Can(actor, plan, authz.ModuleWorkOrderTracking, authz.ActionUploadEvidence, rc) {
		return nil, errors.Unauthorized("not allowed to upload evidence")
	}
	if tag != repository.TagBefore && tag != repository.TagAfter {
		return nil, errors.InvalidInput("tag", "tag must be BEFORE or AFTER")
	}
	if url == "" {
		return nil, errors.InvalidInput("url", "attachment url is required")
	}

	att := &repository.Attachment{
		WorkOrderID: workOrderID,
		Tag:         tag,
		URL:         url,
		UploadedBy:  actor.ID,
	}
	if err := s.store.AddAttachment(ctx, scope, att); err != nil {
		return nil, err
	}
	return att, nil
}

// RecordAssessment stores the technician's assessment notes.
func (s *WorkOrderService) RecordAssessment(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID, notes string) error {
	if notes == "" {
		return errors.InvalidInput("notes", "assessment notes are required")
	}
	if err := s.authorizeUpdate(ctx, scope, actor, plan, workOrderID); err != nil {
		return err
	}
	return s.store.SetAssessmentNotes(ctx, scope, workOrderID, notes)
}

// RecordSolution stores the completed-work description.
func (s *WorkOrderService) RecordSolution(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID, notes string) error {
	if notes == "" {
		return errors.InvalidInput("notes", "solution description is required")
	}
	if err := s.authorizeUpdate(ctx, scope, actor, plan, workOrderID); err != nil {
		return err
	}
	return s.store.SetSolutionNotes(ctx, scope, workOrderID, notes)
}

// RecordCostEstimate stores the estimated cost in cents.
func (s *WorkOrderService) RecordCostEstimate(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID string, amount int64) error {
	if err := s.authorizeUpdate(ctx, scope, actor, plan, workOrderID); err != nil {
		return err
	}
	return s.store.SetCostEstimate(ctx, scope, workOrderID, amount)
}

// RecordActualCost stores the actual cost; zeroCost marks explicitly free work.
func (s *WorkOrderService) RecordActualCost(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID string, amount int64, zeroCost bool) error {
	if err := s.authorizeUpdate(ctx, scope, actor, plan, workOrderID); err != nil {
		return err
	}
	return s.store.SetActualCost(ctx, scope, workOrderID, amount, zeroCost)
}

// GetWorkOrder loads a work order for viewing.
func (s *WorkOrderService) GetWorkOrder(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID string) (*repository.WorkOrder, error) {
	wo, err := s.store.GetByID(ctx, scope, workOrderID)
	if err != nil {
		return nil, err
	}
	rc := authz.ResourceContext{OrganizationID: wo.OrganizationID, OwnerID: wo.OwnerID}
	if !authz.Can(actor, plan, authz.ModuleWorkOrderTracking, authz.ActionView, rc) {
		return nil, errors.Unauthorized("not allowed to view work orders")
	}
	return wo, nil
}

// History returns the transition log.
func (s *WorkOrderService) History(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID string) ([]*repository.WorkOrderHistoryEntry, error) {
	wo, err := s.store.GetByID(ctx, scope, workOrderID)
	if err != nil {
		return nil, err
	}
	rc := authz.ResourceContext{OrganizationID: wo.OrganizationID, OwnerID: wo.OwnerID}
	if !authz.Can(actor, plan, authz.ModuleWorkOrderTracking, authz.ActionView, rc) {
		return nil, errors.Unauthorized("not allowed to view work orders")
	}
	return s.store.History(ctx, scope, workOrderID)
}

func (s *WorkOrderService) authorizeUpdate(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID string) error {
	wo, err := s.store.GetByID(ctx, scope, workOrderID)
	if err != nil {
		return err
	}
	rc := authz.ResourceContext{OrganizationID: wo.OrganizationID, OwnerID: wo.OwnerID}
	if !authz.Can(actor, plan, authz.ModuleWorkOrderTracking, authz.ActionUpdate, rc) {
		return errors.Unauthorized("not allowed to update work orders")
	}
	return nil
}
