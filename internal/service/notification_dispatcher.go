package service

import (
	"context"
	"fmt"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
)

// EventType names a lifecycle event worth notifying people about.
type EventType string

const (
	EventWorkOrderCreated  EventType = "work_order.created"
	EventWorkOrderAssigned EventType = "work_order.assigned"
	EventWorkOrderApproved EventType = "work_order.approved"
	EventWorkOrderRejected EventType = "work_order.rejected"
	EventWorkOrderClosed   EventType = "work_order.closed"

	EventApprovalRequested EventType = "approval.requested"
	EventApprovalApproved  EventType = "approval.approved"
	EventApprovalRejected  EventType = "approval.rejected"
	EventApprovalEscalated EventType = "approval.escalated"
)

// Notification is one outbound message, fanned out to every recipient over
// the configured channels.
type Notification struct {
	EventType      string                 `json:"event_type"`
	OrganizationID string                 `json:"organization_id"`
	Recipients     []string               `json:"recipients"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	DeepLink       string                 `json:"deep_link"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NotificationPublisher hands a notification to the message bus.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, n *Notification) error
}

// eventRoles maps each event to the roles that should hear about it, beyond
// the directly involved parties.
var eventRoles = map[EventType][]authz.Role{
	EventWorkOrderCreated:  {authz.RoleManagement},
	EventWorkOrderAssigned: {authz.RoleManagement},
	EventWorkOrderApproved: {authz.RoleManagement},
	EventWorkOrderRejected: {authz.RoleManagement},
	EventWorkOrderClosed:   {authz.RoleManagement, authz.RoleFinance},
	EventApprovalRequested: {},
	EventApprovalApproved:  {},
	EventApprovalRejected:  {},
	EventApprovalEscalated: {},
}

// NotificationDispatcher builds notifications for lifecycle events and
// publishes them. Publishing is best-effort: a dead bus degrades delivery,
// never the operation that triggered it.
type NotificationDispatcher struct {
	publisher NotificationPublisher
	directory DirectoryClient
	log       *logger.Logger
}

// NewNotificationDispatcher creates a new NotificationDispatcher.
func NewNotificationDispatcher(publisher NotificationPublisher, directory DirectoryClient, log *logger.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		publisher: publisher,
		directory: directory,
		log:       log,
	}
}

// DispatchWorkOrderEvent implements EventDispatcher.
func (d *NotificationDispatcher) DispatchWorkOrderEvent(ctx context.Context, event EventType, wo *repository.WorkOrder, actor authz.Actor) {
	recipients := d.resolveRoleRecipients(ctx, wo.OrganizationID, event)
	recipients = appendUnique(recipients, wo.OwnerID)
	recipients = appendUnique(recipients, wo.CreatedBy)
	if wo.TechnicianID != nil {
		recipients = appendUnique(recipients, *wo.TechnicianID)
	}

	title, body := workOrderMessage(event, wo)
	d.publish(ctx, &Notification{
		EventType:      string(event),
		OrganizationID: wo.OrganizationID,
		Recipients:     recipients,
		Title:          title,
		Body:           body,
		DeepLink:       fmt.Sprintf("fm://work-orders/%s", wo.ID),
		Metadata: map[string]interface{}{
			"work_order_id": wo.ID,
			"status":        string(wo.Status),
			"actor_id":      actor.ID,
		},
	})
}

// DispatchApprovalEvent implements ApprovalNotifier. Recipients are the
// pending approvers of the relevant stage, or the requester for terminal
// events; the caller decides.
func (d *NotificationDispatcher) DispatchApprovalEvent(ctx context.Context, event EventType, wf *repository.ApprovalWorkflow, recipients []string) {
	all := d.resolveRoleRecipients(ctx, wf.OrganizationID, event)
	for _, r := range recipients {
		all = appendUnique(all, r)
	}

	title, body := approvalMessage(event, wf)
	d.publish(ctx, &Notification{
		EventType:      string(event),
		OrganizationID: wf.OrganizationID,
		Recipients:     all,
		Title:          title,
		Body:           body,
		DeepLink:       fmt.Sprintf("fm://approvals/%s", wf.ID),
		Metadata: map[string]interface{}{
			"workflow_id": wf.ID,
			"entity_type": string(wf.EntityType),
			"entity_id":   wf.EntityID,
			"amount":      wf.Amount,
		},
	})
}

func (d *NotificationDispatcher) publish(ctx context.Context, n *Notification) {
	if len(n.Recipients) == 0 {
		return
	}
	if err := d.publisher.PublishNotification(ctx, n); err != nil {
		d.log.Warn().Err(err).
			Str("event_type", n.EventType).
			Str("organization_id", n.OrganizationID).
			Msg("Failed to publish notification")
	}
}

func (d *NotificationDispatcher) resolveRoleRecipients(ctx context.Context, organizationID string, event EventType) []string {
	var recipients []string
	for _, role := range eventRoles[event] {
		users, err := d.directory.GetUsersWithRole(ctx, organizationID, string(role))
		if err != nil {
			d.log.Warn().Err(err).Str("role", string(role)).
				Msg("Failed to resolve notification recipients for role")
			continue
		}
		for _, u := range users {
			recipients = appendUnique(recipients, u)
		}
	}
	return recipients
}

func workOrderMessage(event EventType, wo *repository.WorkOrder) (string, string) {
	switch event {
	case EventWorkOrderCreated:
		return "New work order", fmt.Sprintf("Work order %s was created for property %s", wo.ID, wo.PropertyID)
	case EventWorkOrderAssigned:
		return "Work order assigned", fmt.Sprintf("Work order %s has been assigned", wo.ID)
	case EventWorkOrderApproved:
		return "Work order approved", fmt.Sprintf("Work order %s was approved and can proceed", wo.ID)
	case EventWorkOrderRejected:
		return "Work order rejected", fmt.Sprintf("Work order %s was rejected", wo.ID)
	case EventWorkOrderClosed:
		return "Work order closed", fmt.Sprintf("Work order %s is closed and posted to finance", wo.ID)
	}
	return "Work order update", fmt.Sprintf("Work order %s changed to %s", wo.ID, wo.Status)
}

func approvalMessage(event EventType, wf *repository.ApprovalWorkflow) (string, string) {
	amount := fmt.Sprintf("%s %.2f", wf.Currency, float64(wf.Amount)/100)
	switch event {
	case EventApprovalRequested:
		return "Approval requested", fmt.Sprintf("A %s of %s awaits your approval", wf.EntityType, amount)
	case EventApprovalApproved:
		return "Approval granted", fmt.Sprintf("Your %s of %s was approved", wf.EntityType, amount)
	case EventApprovalRejected:
		return "Approval rejected", fmt.Sprintf("Your %s of %s was rejected", wf.EntityType, amount)
	case EventApprovalEscalated:
		return "Approval escalated", fmt.Sprintf("An overdue %s approval of %s was escalated to you", wf.EntityType, amount)
	}
	return "Approval update", fmt.Sprintf("Approval workflow %s changed", wf.ID)
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
