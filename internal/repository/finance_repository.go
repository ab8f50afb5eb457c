package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/database"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// FinanceRepository posts ledger transactions, tenant invoices and owner
// statement aggregates. Posting methods take the open transaction of the
// triggering state change so finance writes commit atomically with it.
type FinanceRepository struct {
	db *database.DB
}

// NewFinanceRepository creates a new FinanceRepository.
func NewFinanceRepository(db *database.DB) *FinanceRepository {
	return &FinanceRepository{db: db}
}

// CreateTransactionTx inserts a ledger transaction. Returns false when a
// transaction of the same type already exists for the work order, in which
// case nothing is written (replay-safe posting).
func (r *FinanceRepository) CreateTransactionTx(ctx context.Context, tx pgx.Tx, t *LedgerTransaction) (bool, error) {
	query := `
		INSERT INTO ledger_transactions
		    (organization_id, work_order_id, property_id, owner_id,
		     txn_type, amount, currency, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (work_order_id, txn_type) DO NOTHING
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		t.OrganizationID,
		t.WorkOrderID,
		t.PropertyID,
		t.OwnerID,
		t.Type,
		t.Amount,
		t.Currency,
		t.Description,
	).Scan(&t.ID, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create ledger transaction")
	}
	return true, nil
}

// CreateInvoiceTx inserts a tenant invoice for chargeable work. Idempotent on
// work order id.
func (r *FinanceRepository) CreateInvoiceTx(ctx context.Context, tx pgx.Tx, inv *TenantInvoice) (bool, error) {
	query := `
		INSERT INTO tenant_invoices
		    (organization_id, work_order_id, tenant_id, amount, currency, status, issued_at, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (work_order_id) DO NOTHING
		RETURNING id
	`

	err := tx.QueryRow(ctx, query,
		inv.OrganizationID,
		inv.WorkOrderID,
		inv.TenantID,
		inv.Amount,
		inv.Currency,
		inv.Status,
		inv.IssuedAt,
		inv.DueAt,
	).Scan(&inv.ID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create tenant invoice")
	}
	return true, nil
}

// ApplyStatementTx folds deltas into the owner's monthly statement aggregate.
func (r *FinanceRepository) ApplyStatementTx(ctx context.Context, tx pgx.Tx, st *OwnerStatement) error {
	query := `
		INSERT INTO owner_statements
		    (organization_id, owner_id, property_id, period, total_expenses, total_charges, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (organization_id, owner_id, property_id, period) DO UPDATE
		SET total_expenses = owner_statements.total_expenses + EXCLUDED.total_expenses,
		    total_charges  = owner_statements.total_charges + EXCLUDED.total_charges,
		    updated_at     = NOW()
	`

	if _, err := tx.Exec(ctx, query,
		st.OrganizationID,
		st.OwnerID,
		st.PropertyID,
		st.Period,
		st.TotalExpenses,
		st.TotalCharges,
	); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update owner statement")
	}
	return nil
}

// ListTransactions returns the ledger entries for a work order.
func (r *FinanceRepository) ListTransactions(ctx context.Context, scope tenant.Scope, workOrderID string) ([]*LedgerTransaction, error) {
	where, args := scope.Filter().Where("work_order_id = ?", workOrderID).Build(1, "organization_id")
	query := `
		SELECT id, organization_id, work_order_id, property_id, owner_id,
		       txn_type, amount, currency, description, created_at
		FROM ledger_transactions
		WHERE ` + where + `
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list ledger transactions")
	}
	defer rows.Close()

	var txns []*LedgerTransaction
	for rows.Next() {
		t := &LedgerTransaction{}
		err := rows.Scan(
			&t.ID, &t.OrganizationID, &t.WorkOrderID, &t.PropertyID, &t.OwnerID,
			&t.Type, &t.Amount, &t.Currency, &t.Description, &t.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan ledger transaction")
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// GetStatement returns one owner statement aggregate.
func (r *FinanceRepository) GetStatement(ctx context.Context, scope tenant.Scope, ownerID, propertyID, period string) (*OwnerStatement, error) {
	where, args := scope.Filter().
		Where("owner_id = ?", ownerID).
		Where("property_id = ?", propertyID).
		Where("period = ?", period).
		Build(1, "organization_id")
	query := `
		SELECT organization_id, owner_id, property_id, period,
		       total_expenses, total_charges, updated_at
		FROM owner_statements
		WHERE ` + where + `
	`

	st := &OwnerStatement{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&st.OrganizationID, &st.OwnerID, &st.PropertyID, &st.Period,
		&st.TotalExpenses, &st.TotalCharges, &st.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("owner_statement", ownerID+"/"+period)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get owner statement")
	}
	return st, nil
}
