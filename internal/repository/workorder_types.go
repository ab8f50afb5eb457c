package repository

import "time"

// ── Work order domain types ──────────────────────────────────────────────────

// WorkOrderStatus is one of the 18 lifecycle states. Transitions between
// statuses go through the state machine only.
type WorkOrderStatus string

const (
	StatusDraft            WorkOrderStatus = "DRAFT"
	StatusSubmitted        WorkOrderStatus = "SUBMITTED"
	StatusAssessment       WorkOrderStatus = "ASSESSMENT"
	StatusEstimatePending  WorkOrderStatus = "ESTIMATE_PENDING"
	StatusQuotationReview  WorkOrderStatus = "QUOTATION_REVIEW"
	StatusApprovalPending  WorkOrderStatus = "APPROVAL_PENDING"
	StatusApproved         WorkOrderStatus = "APPROVED"
	StatusAssigned         WorkOrderStatus = "ASSIGNED"
	StatusInProgress       WorkOrderStatus = "IN_PROGRESS"
	StatusWorkComplete     WorkOrderStatus = "WORK_COMPLETE"
	StatusQualityCheck     WorkOrderStatus = "QUALITY_CHECK"
	StatusFinancialPosting WorkOrderStatus = "FINANCIAL_POSTING"
	StatusCompleted        WorkOrderStatus = "COMPLETED"
	StatusVerified         WorkOrderStatus = "VERIFIED"
	StatusClosed           WorkOrderStatus = "CLOSED"
	StatusRejected         WorkOrderStatus = "REJECTED"
	StatusCancelled        WorkOrderStatus = "CANCELLED"
	StatusOnHold           WorkOrderStatus = "ON_HOLD"
)

// AttachmentTag marks evidentiary attachments by phase.
type AttachmentTag string

const (
	TagBefore AttachmentTag = "BEFORE"
	TagAfter  AttachmentTag = "AFTER"
)

// Attachment is one evidentiary file reference on a work order.
type Attachment struct {
	ID          string
	WorkOrderID string
	Tag         AttachmentTag
	URL         string
	UploadedBy  string
	UploadedAt  time.Time
}

// WorkOrder is a facility maintenance request. Monetary amounts are cents.
type WorkOrder struct {
	ID              string
	OrganizationID  string
	PropertyID      string
	OwnerID         string
	UnitID          *string
	Title           string
	Description     *string
	Category        string
	Status          WorkOrderStatus
	TechnicianID    *string
	VendorID        *string
	TenantID        *string
	ChargeToTenant  bool
	CostEstimate    int64
	ActualCost      int64
	ZeroCost        bool
	Currency        string
	AssessmentNotes *string
	SolutionNotes   *string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Attachments are loaded alongside the work order for guard evaluation.
	Attachments []Attachment
}

// HasAttachment reports whether any attachment carries the given tag.
func (w *WorkOrder) HasAttachment(tag AttachmentTag) bool {
	for _, a := range w.Attachments {
		if a.Tag == tag {
			return true
		}
	}
	return false
}

// WorkOrderHistoryEntry records one committed transition. Entries are
// append-only; RequestID makes transition requests replay-safe.
type WorkOrderHistoryEntry struct {
	ID             string
	WorkOrderID    string
	OrganizationID string
	RequestID      string
	FromStatus     WorkOrderStatus
	ToStatus       WorkOrderStatus
	ActorID        string
	ActorRole      string
	Note           *string
	CreatedAt      time.Time
}

// ServiceProvider is a technician or vendor registered with an organization.
// Used for cross-reference validation when linking to a work order.
type ServiceProvider struct {
	ID             string
	OrganizationID string
	Kind           string // technician | vendor
	Name           string
}
