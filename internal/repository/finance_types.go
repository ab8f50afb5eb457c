package repository

import "time"

// ── Finance posting domain types ─────────────────────────────────────────────

// TransactionType tags ledger entries produced by work-order closure.
type TransactionType string

const (
	TxnExpense       TransactionType = "expense"
	TxnTenantInvoice TransactionType = "tenant_invoice"
)

// LedgerTransaction is one posted ledger record. Amount is cents. The pair
// (work_order_id, txn_type) is unique, which makes posting idempotent.
type LedgerTransaction struct {
	ID             string
	OrganizationID string
	WorkOrderID    string
	PropertyID     string
	OwnerID        string
	Type           TransactionType
	Amount         int64
	Currency       string
	Description    string
	CreatedAt      time.Time
}

// TenantInvoice bills a tenant for chargeable work. Due 30 days after issue.
type TenantInvoice struct {
	ID             string
	OrganizationID string
	WorkOrderID    string
	TenantID       string
	Amount         int64
	Currency       string
	Status         string // open | paid | void
	IssuedAt       time.Time
	DueAt          time.Time
}

// OwnerStatement is the running per-owner, per-property monthly aggregate.
type OwnerStatement struct {
	OrganizationID string
	OwnerID        string
	PropertyID     string
	Period         string // YYYY-MM
	TotalExpenses  int64
	TotalCharges   int64
	UpdatedAt      time.Time
}
