package service

import (
	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/repository"
)

// transitionGuard checks a precondition on the locked work order. Guards
// return GuardNotSatisfied with a specific reason.
type transitionGuard func(wo *repository.WorkOrder) error

// transitionDef is one legal edge of the work-order state machine.
type transitionDef struct {
	From repository.WorkOrderStatus
	To   repository.WorkOrderStatus

	// Roles allowed to drive this edge. The module/action pair is
	// additionally checked through authz.Can when set.
	Roles  []authz.Role
	Module authz.Module
	Action authz.Action

	Guards []transitionGuard

	// RequiresApproval marks edges that may only commit once an approval
	// workflow for the work order has completed.
	RequiresApproval bool

	// Finance marks edges whose commit posts finance records atomically.
	Finance bool

	// Events to dispatch after the transition commits.
	Events []EventType
}

func (d *transitionDef) allowsRole(role authz.Role) bool {
	if role == authz.RoleSuperAdmin {
		return true
	}
	for _, r := range d.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ── guards ───────────────────────────────────────────────────────────────────

func guardTechnicianAssigned(wo *repository.WorkOrder) error {
	if wo.TechnicianID == nil || *wo.TechnicianID == "" {
		return errors.GuardNotSatisfied("a technician must be assigned first")
	}
	return nil
}

func guardBeforeAttachment(wo *repository.WorkOrder) error {
	if !wo.HasAttachment(repository.TagBefore) {
		return errors.GuardNotSatisfied("at least one BEFORE attachment is required")
	}
	return nil
}

func guardAfterAttachment(wo *repository.WorkOrder) error {
	if !wo.HasAttachment(repository.TagAfter) {
		return errors.GuardNotSatisfied("at least one AFTER attachment is required")
	}
	return nil
}

func guardAssessmentNotes(wo *repository.WorkOrder) error {
	if wo.AssessmentNotes == nil || *wo.AssessmentNotes == "" {
		return errors.GuardNotSatisfied("assessment notes are required")
	}
	return nil
}

func guardSolutionNotes(wo *repository.WorkOrder) error {
	if wo.SolutionNotes == nil || *wo.SolutionNotes == "" {
		return errors.GuardNotSatisfied("a solution description is required")
	}
	return nil
}

func guardCostEstimate(wo *repository.WorkOrder) error {
	if wo.CostEstimate <= 0 {
		return errors.GuardNotSatisfied("a cost estimate greater than zero is required")
	}
	return nil
}

func guardActualCost(wo *repository.WorkOrder) error {
	if wo.ActualCost <= 0 && !wo.ZeroCost {
		return errors.GuardNotSatisfied("actual cost must be recorded, or the work order flagged zero-cost")
	}
	return nil
}

// ── transition table ─────────────────────────────────────────────────────────

var requesterRoles = []authz.Role{
	authz.RoleTenant, authz.RoleEmployee, authz.RolePropertyOwner,
	authz.RoleOwnerDeputy, authz.RoleManagement, authz.RoleCorporateAdmin,
}

var approverRoles = []authz.Role{
	authz.RolePropertyOwner, authz.RoleOwnerDeputy,
	authz.RoleManagement, authz.RoleFinance, authz.RoleCorporateAdmin,
}

// transitions is the complete edge set of the 18-state lifecycle. Anything
// not listed here is an invalid transition.
var transitions = []transitionDef{
	{
		From: repository.StatusDraft, To: repository.StatusSubmitted,
		Roles:  requesterRoles,
		Module: authz.ModuleWorkOrderCreate, Action: authz.ActionCreate,
		Events: []EventType{EventWorkOrderCreated},
	},
	{
		From: repository.StatusDraft, To: repository.StatusCancelled,
		Roles:  requesterRoles,
		Module: authz.ModuleWorkOrderCreate, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusSubmitted, To: repository.StatusAssessment,
		Roles:  []authz.Role{authz.RoleTechnician, authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Guards: []transitionGuard{guardTechnicianAssigned, guardBeforeAttachment},
	},
	{
		From: repository.StatusSubmitted, To: repository.StatusRejected,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleCorporateAdmin},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionReject,
	},
	{
		From: repository.StatusSubmitted, To: repository.StatusCancelled,
		Roles:  requesterRoles,
		Module: authz.ModuleWorkOrderCreate, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusAssessment, To: repository.StatusEstimatePending,
		Roles:  []authz.Role{authz.RoleTechnician, authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Guards: []transitionGuard{guardAssessmentNotes},
	},
	{
		From: repository.StatusAssessment, To: repository.StatusOnHold,
		Roles:  []authz.Role{authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusEstimatePending, To: repository.StatusQuotationReview,
		Roles:  []authz.Role{authz.RoleTechnician, authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusQuotationReview, To: repository.StatusApprovalPending,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleFinance},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Guards: []transitionGuard{guardCostEstimate},
		Events: []EventType{EventApprovalRequested},
	},
	{
		From: repository.StatusQuotationReview, To: repository.StatusRejected,
		Roles:  approverRoles,
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionReject,
	},
	{
		From: repository.StatusApprovalPending, To: repository.StatusApproved,
		Roles:  approverRoles,
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionApprove,
		RequiresApproval: true,
		Events:           []EventType{EventWorkOrderApproved},
	},
	{
		From: repository.StatusApprovalPending, To: repository.StatusRejected,
		Roles:  approverRoles,
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionReject,
		Events: []EventType{EventWorkOrderRejected},
	},
	{
		From: repository.StatusApproved, To: repository.StatusAssigned,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleCorporateAdmin},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionAssign,
		Guards: []transitionGuard{guardTechnicianAssigned},
		Events: []EventType{EventWorkOrderAssigned},
	},
	{
		From: repository.StatusApproved, To: repository.StatusCancelled,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleCorporateAdmin},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusAssigned, To: repository.StatusInProgress,
		Roles:  []authz.Role{authz.RoleTechnician, authz.RoleVendor},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusAssigned, To: repository.StatusOnHold,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleTechnician},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusInProgress, To: repository.StatusWorkComplete,
		Roles:  []authz.Role{authz.RoleTechnician, authz.RoleVendor},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Guards: []transitionGuard{guardAfterAttachment},
	},
	{
		From: repository.StatusInProgress, To: repository.StatusOnHold,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleTechnician},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusOnHold, To: repository.StatusAssigned,
		Roles:  []authz.Role{authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusOnHold, To: repository.StatusInProgress,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleTechnician},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusWorkComplete, To: repository.StatusQualityCheck,
		Roles:  []authz.Role{authz.RoleTechnician, authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Guards: []transitionGuard{guardSolutionNotes},
	},
	// Quality failure sends the work order back to IN_PROGRESS. A legal,
	// explicitly modeled backward edge.
	{
		From: repository.StatusQualityCheck, To: repository.StatusInProgress,
		Roles:  []authz.Role{authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusQualityCheck, To: repository.StatusFinancialPosting,
		Roles:  []authz.Role{authz.RoleManagement, authz.RoleFinance},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Guards: []transitionGuard{guardActualCost},
	},
	{
		From: repository.StatusFinancialPosting, To: repository.StatusCompleted,
		Roles:  []authz.Role{authz.RoleFinance, authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
	},
	{
		From: repository.StatusCompleted, To: repository.StatusVerified,
		Roles:  []authz.Role{authz.RolePropertyOwner, authz.RoleOwnerDeputy, authz.RoleManagement},
		Module: authz.ModuleWorkOrderTracking, Action: authz.ActionApprove,
	},
	{
		From: repository.StatusVerified, To: repository.StatusClosed,
		Roles:   []authz.Role{authz.RoleManagement, authz.RoleFinance, authz.RoleCorporateAdmin},
		Module:  authz.ModuleWorkOrderTracking, Action: authz.ActionUpdate,
		Finance: true,
		Events:  []EventType{EventWorkOrderClosed},
	},
}

// findTransition returns the edge definition for (from, to), or nil.
func findTransition(from, to repository.WorkOrderStatus) *transitionDef {
	for i := range transitions {
		if transitions[i].From == from && transitions[i].To == to {
			return &transitions[i]
		}
	}
	return nil
}
