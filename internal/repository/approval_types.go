package repository

import "time"

// ── Approval workflow domain types ───────────────────────────────────────────

// WorkflowStatus is the overall state of an approval workflow. It is a
// deterministic function of stage outcomes.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowApproved  WorkflowStatus = "APPROVED"
	WorkflowRejected  WorkflowStatus = "REJECTED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// StageMode controls how a stage resolves.
type StageMode string

const (
	// StageSequential resolves on the first eligible approval.
	StageSequential StageMode = "sequential"
	// StageParallel resolves only when every listed approver has approved.
	StageParallel StageMode = "parallel"
)

// EntityType tags the thing being approved.
type EntityType string

const (
	EntityQuotation     EntityType = "quotation"
	EntityWorkOrder     EntityType = "work_order"
	EntityBudget        EntityType = "budget"
	EntityPurchaseOrder EntityType = "purchase_order"
	EntityInvoice       EntityType = "invoice"
)

// ValidEntityType reports whether t is a known entity tag.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityQuotation, EntityWorkOrder, EntityBudget, EntityPurchaseOrder, EntityInvoice:
		return true
	}
	return false
}

// Approver statuses within a stage.
const (
	ApproverPending  = "pending"
	ApproverApproved = "approved"
)

// Stage statuses.
const (
	StagePending  = "pending"
	StageApproved = "approved"
	StageRejected = "rejected"
)

// StageApprover is one identity expected to act on a stage. Stored as JSONB.
type StageApprover struct {
	UserID        string     `json:"user_id"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	ActedAt       *time.Time `json:"acted_at,omitempty"`
	DelegatedFrom *string    `json:"delegated_from,omitempty"`
}

// ApprovalStage is one step of a workflow.
type ApprovalStage struct {
	ID             string
	WorkflowID     string
	OrganizationID string
	Index          int
	Mode           StageMode
	EligibleRoles  []string
	Approvers      []StageApprover
	Deadline       time.Time
	EscalateTo     *string
	// EscalatedFor records the deadline an escalation already fired for, so
	// repeated scans never escalate the same missed deadline twice.
	EscalatedFor *time.Time
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllApproved reports whether every approver on the stage has approved.
func (s *ApprovalStage) AllApproved() bool {
	if len(s.Approvers) == 0 {
		return false
	}
	for _, a := range s.Approvers {
		if a.Status != ApproverApproved {
			return false
		}
	}
	return true
}

// FindApprover returns the approver entry for userID, or nil.
func (s *ApprovalStage) FindApprover(userID string) *StageApprover {
	for i := range s.Approvers {
		if s.Approvers[i].UserID == userID {
			return &s.Approvers[i]
		}
	}
	return nil
}

// ApprovalWorkflow is one routed approval. Amount is cents.
type ApprovalWorkflow struct {
	ID             string
	OrganizationID string
	EntityType     EntityType
	EntityID       string
	Amount         int64
	Currency       string
	Category       string
	Status         WorkflowStatus
	CurrentStage   int // 0-based index into stages
	TotalStages    int
	RequestedBy    string
	RuleID         *string
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// History actions.
const (
	HistoryRouted          = "routed"
	HistoryApproved        = "approved"
	HistoryRejected        = "rejected"
	HistoryDelegated       = "delegated"
	HistoryEscalated       = "escalated"
	HistoryTimeoutRejected = "timeout_rejected"
	HistoryCancelled       = "cancelled"
)

// ApprovalHistoryEntry is one immutable record in a workflow's history. The
// table carries a delete/update-prevention trigger; Append is the only write.
type ApprovalHistoryEntry struct {
	ID             string
	WorkflowID     string
	OrganizationID string
	StageIndex     *int
	Action         string
	ActorID        string
	DelegateTo     *string
	Note           *string
	// DeadlineKey is set on escalation entries: the missed deadline this
	// entry accounts for. (workflow, deadline) is unique.
	DeadlineKey *time.Time
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// RuleStage is one stage definition inside an approval rule. Stored as JSONB.
type RuleStage struct {
	Mode         StageMode `json:"mode"`
	Roles        []string  `json:"roles"`
	TimeoutHours int       `json:"timeout_hours"`
	EscalateTo   string    `json:"escalate_to,omitempty"`
}

// ApprovalRule is a configurable routing rule. Rules are evaluated in
// ascending ceiling order; the first whose ceiling covers the amount and
// whose category list matches (empty list = wildcard) wins.
type ApprovalRule struct {
	ID             string
	OrganizationID string
	Name           string
	// MaxAmount is the inclusive ceiling in cents; nil means unbounded.
	MaxAmount  *int64
	Categories []string
	Stages     []RuleStage
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MatchesCategory reports whether the rule applies to a category.
func (r *ApprovalRule) MatchesCategory(category string) bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Covers reports whether the rule's ceiling admits the amount.
func (r *ApprovalRule) Covers(amount int64) bool {
	return r.MaxAmount == nil || amount <= *r.MaxAmount
}
