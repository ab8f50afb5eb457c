package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/database"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

const workOrderColumns = `
	id, organization_id, property_id, owner_id, unit_id,
	title, description, category, status,
	technician_id, vendor_id, tenant_id, charge_to_tenant,
	cost_estimate, actual_cost, zero_cost, currency,
	assessment_notes, solution_notes,
	created_by, created_at, updated_at`

// TransitionApplyFunc mutates the locked work order (status change only) and
// returns the history entry to append. Returning an error aborts the
// transaction with no partial mutation.
type TransitionApplyFunc func(wo *WorkOrder) (*WorkOrderHistoryEntry, error)

// TransitionPostFunc runs additional writes inside the same transaction after
// the status commit, for side effects that must be atomic with the transition.
type TransitionPostFunc func(ctx context.Context, tx pgx.Tx, wo *WorkOrder) error

// TransitionRecord is the committed outcome of ApplyTransition.
type TransitionRecord struct {
	WorkOrder *WorkOrder
	Entry     *WorkOrderHistoryEntry
	Replayed  bool
}

// WorkOrderRepository persists work orders, their attachments and their
// transition history.
type WorkOrderRepository struct {
	db *database.DB
}

// NewWorkOrderRepository creates a new WorkOrderRepository.
func NewWorkOrderRepository(db *database.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

// Create inserts a new work order in DRAFT. The organization id comes from
// the scope, never from the caller-supplied record.
func (r *WorkOrderRepository) Create(ctx context.Context, scope tenant.Scope, wo *WorkOrder) error {
	if scope.IsGlobal() {
		return errors.InvalidInput("scope", "work orders must be created under an organization scope")
	}
	wo.OrganizationID = scope.OrganizationID()
	wo.Status = StatusDraft

	query := `
		INSERT INTO work_orders
		    (organization_id, property_id, owner_id, unit_id,
		     title, description, category, status,
		     tenant_id, charge_to_tenant, cost_estimate, actual_cost, zero_cost,
		     currency, created_by)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8,
		        $9, $10, $11, $12, $13,
		        $14, $15)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		wo.OrganizationID,
		wo.PropertyID,
		wo.OwnerID,
		wo.UnitID,
		wo.Title,
		wo.Description,
		wo.Category,
		wo.Status,
		wo.TenantID,
		wo.ChargeToTenant,
		wo.CostEstimate,
		wo.ActualCost,
		wo.ZeroCost,
		wo.Currency,
		wo.CreatedBy,
	).Scan(&wo.ID, &wo.CreatedAt, &wo.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create work order")
	}
	return nil
}

// GetByID loads a work order with its attachments. A work order in another
// organization is indistinguishable from a missing one.
func (r *WorkOrderRepository) GetByID(ctx context.Context, scope tenant.Scope, id string) (*WorkOrder, error) {
	where, args := scope.Filter().Where("id = ?", id).Build(1, "organization_id")
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE ` + where

	wo, err := scanWorkOrder(r.db.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("work_order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work order")
	}

	if err := r.loadAttachments(ctx, wo); err != nil {
		return nil, err
	}
	return wo, nil
}

// AddAttachment records an evidentiary file against a work order.
func (r *WorkOrderRepository) AddAttachment(ctx context.Context, scope tenant.Scope, att *Attachment) error {
	// Scoped existence check first: a cross-tenant work order must look missing.
	if _, err := r.GetByID(ctx, scope, att.WorkOrderID); err != nil {
		return err
	}

	query := `
		INSERT INTO work_order_attachments
		    (work_order_id, organization_id, tag, url, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, uploaded_at
	`
	err := r.db.QueryRow(ctx, query,
		att.WorkOrderID,
		scope.OrganizationID(),
		att.Tag,
		att.URL,
		att.UploadedBy,
	).Scan(&att.ID, &att.UploadedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to add attachment")
	}
	return nil
}

// SetAssessmentNotes records the technician's assessment.
func (r *WorkOrderRepository) SetAssessmentNotes(ctx context.Context, scope tenant.Scope, id, notes string) error {
	return r.setField(ctx, scope, id, "assessment_notes", notes)
}

// SetSolutionNotes records the completed-work description.
func (r *WorkOrderRepository) SetSolutionNotes(ctx context.Context, scope tenant.Scope, id, notes string) error {
	return r.setField(ctx, scope, id, "solution_notes", notes)
}

// SetCostEstimate records the estimated cost in cents.
func (r *WorkOrderRepository) SetCostEstimate(ctx context.Context, scope tenant.Scope, id string, amount int64) error {
	if amount < 0 {
		return errors.InvalidInput("cost_estimate", "amount must be non-negative")
	}
	return r.setField(ctx, scope, id, "cost_estimate", amount)
}

// SetActualCost records the actual cost; zeroCost marks explicitly free work.
func (r *WorkOrderRepository) SetActualCost(ctx context.Context, scope tenant.Scope, id string, amount int64, zeroCost bool) error {
	if amount < 0 {
		return errors.InvalidInput("actual_cost", "amount must be non-negative")
	}
	where, args := scope.Filter().Where("id = ?", id).Build(3, "organization_id")
	query := `UPDATE work_orders SET actual_cost = $1, zero_cost = $2, updated_at = NOW() WHERE ` + where + ` RETURNING id`

	var returned string
	err := r.db.QueryRow(ctx, query, append([]any{amount, zeroCost}, args...)...).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("work_order", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set actual cost")
	}
	return nil
}

// AssignTechnician links a technician to the work order.
func (r *WorkOrderRepository) AssignTechnician(ctx context.Context, scope tenant.Scope, id, technicianID string) error {
	return r.setField(ctx, scope, id, "technician_id", technicianID)
}

// AssignVendor links a vendor to the work order.
func (r *WorkOrderRepository) AssignVendor(ctx context.Context, scope tenant.Scope, id, vendorID string) error {
	return r.setField(ctx, scope, id, "vendor_id", vendorID)
}

// GetProvider loads a technician/vendor record by id. The read is unscoped on
// purpose: the caller uses it only for same-organization link validation.
func (r *WorkOrderRepository) GetProvider(ctx context.Context, id string) (*ServiceProvider, error) {
	query := `SELECT id, organization_id, kind, name FROM service_providers WHERE id = $1`

	p := &ServiceProvider{}
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.OrganizationID, &p.Kind, &p.Name)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("service_provider", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get service provider")
	}
	return p, nil
}

// ApplyTransition serializes a status change for one work order. The row is
// locked FOR UPDATE, the request id is checked for replay, apply computes the
// new status and history entry, and post (optional) runs dependent writes in
// the same transaction. All-or-nothing.
func (r *WorkOrderRepository) ApplyTransition(
	ctx context.Context,
	scope tenant.Scope,
	workOrderID, requestID string,
	apply TransitionApplyFunc,
	post TransitionPostFunc,
) (*TransitionRecord, error) {
	record := &TransitionRecord{}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		where, args := scope.Filter().Where("id = ?", workOrderID).Build(1, "organization_id")
		query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE ` + where + ` FOR UPDATE`

		wo, err := scanWorkOrder(tx.QueryRow(ctx, query, args...))
		if err == pgx.ErrNoRows {
			return errors.NotFound("work_order", workOrderID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock work order")
		}

		wo.Attachments, err = loadAttachmentsTx(ctx, tx, wo.ID)
		if err != nil {
			return err
		}

		// Replay: a request id already in history returns the prior outcome.
		if requestID != "" {
			prior, err := findHistoryByRequestID(ctx, tx, wo.ID, requestID)
			if err != nil {
				return err
			}
			if prior != nil {
				record.WorkOrder = wo
				record.Entry = prior
				record.Replayed = true
				return nil
			}
		}

		entry, err := apply(wo)
		if err != nil {
			return err
		}

		updateQuery := `UPDATE work_orders SET status = $1, updated_at = NOW() WHERE id = $2`
		if _, err := tx.Exec(ctx, updateQuery, wo.Status, wo.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update work order status")
		}

		entry.WorkOrderID = wo.ID
		entry.OrganizationID = wo.OrganizationID
		entry.RequestID = requestID
		historyQuery := `
			INSERT INTO work_order_history
			    (work_order_id, organization_id, request_id, from_status, to_status, actor_id, actor_role, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at
		`
		err = tx.QueryRow(ctx, historyQuery,
			entry.WorkOrderID,
			entry.OrganizationID,
			entry.RequestID,
			entry.FromStatus,
			entry.ToStatus,
			entry.ActorID,
			entry.ActorRole,
			entry.Note,
		).Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to append work order history")
		}

		if post != nil {
			if err := post(ctx, tx, wo); err != nil {
				return err
			}
		}

		record.WorkOrder = wo
		record.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// History returns the transition log for a work order, oldest first.
func (r *WorkOrderRepository) History(ctx context.Context, scope tenant.Scope, workOrderID string) ([]*WorkOrderHistoryEntry, error) {
	where, args := scope.Filter().Where("work_order_id = ?", workOrderID).Build(1, "organization_id")
	query := `
		SELECT id, work_order_id, organization_id, request_id,
		       from_status, to_status, actor_id, actor_role, note, created_at
		FROM work_order_history
		WHERE ` + where + `
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work order history")
	}
	defer rows.Close()

	var entries []*WorkOrderHistoryEntry
	for rows.Next() {
		e := &WorkOrderHistoryEntry{}
		err := rows.Scan(
			&e.ID, &e.WorkOrderID, &e.OrganizationID, &e.RequestID,
			&e.FromStatus, &e.ToStatus, &e.ActorID, &e.ActorRole, &e.Note, &e.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ── internal helpers ──────────────────────────────────────────────────────────

func (r *WorkOrderRepository) setField(ctx context.Context, scope tenant.Scope, id, column string, value any) error {
	where, args := scope.Filter().Where("id = ?", id).Build(2, "organization_id")
	query := `UPDATE work_orders SET ` + column + ` = $1, updated_at = NOW() WHERE ` + where + ` RETURNING id`

	var returned string
	err := r.db.QueryRow(ctx, query, append([]any{value}, args...)...).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("work_order", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update work order")
	}
	return nil
}

func (r *WorkOrderRepository) loadAttachments(ctx context.Context, wo *WorkOrder) error {
	query := `
		SELECT id, work_order_id, tag, url, uploaded_by, uploaded_at
		FROM work_order_attachments
		WHERE work_order_id = $1
		ORDER BY uploaded_at ASC
	`
	rows, err := r.db.Query(ctx, query, wo.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load attachments")
	}
	defer rows.Close()

	wo.Attachments, err = scanAttachments(rows)
	return err
}

func loadAttachmentsTx(ctx context.Context, tx pgx.Tx, workOrderID string) ([]Attachment, error) {
	query := `
		SELECT id, work_order_id, tag, url, uploaded_by, uploaded_at
		FROM work_order_attachments
		WHERE work_order_id = $1
		ORDER BY uploaded_at ASC
	`
	rows, err := tx.Query(ctx, query, workOrderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load attachments")
	}
	defer rows.Close()

	return scanAttachments(rows)
}

func scanAttachments(rows pgx.Rows) ([]Attachment, error) {
	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.WorkOrderID, &a.Tag, &a.URL, &a.UploadedBy, &a.UploadedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan attachment")
		}
		atts = append(atts, a)
	}
	return atts, nil
}

func findHistoryByRequestID(ctx context.Context, tx pgx.Tx, workOrderID, requestID string) (*WorkOrderHistoryEntry, error) {
	query := `
		SELECT id, work_order_id, organization_id, request_id,
		       from_status, to_status, actor_id, actor_role, note, created_at
		FROM work_order_history
		WHERE work_order_id = $1 AND request_id = $2
	`
	e := &WorkOrderHistoryEntry{}
	err := tx.QueryRow(ctx, query, workOrderID, requestID).Scan(
		&e.ID, &e.WorkOrderID, &e.OrganizationID, &e.RequestID,
		&e.FromStatus, &e.ToStatus, &e.ActorID, &e.ActorRole, &e.Note, &e.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check transition replay")
	}
	return e, nil
}

type workOrderScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row workOrderScanner) (*WorkOrder, error) {
	wo := &WorkOrder{}
	err := row.Scan(
		&wo.ID,
		&wo.OrganizationID,
		&wo.PropertyID,
		&wo.OwnerID,
		&wo.UnitID,
		&wo.Title,
		&wo.Description,
		&wo.Category,
		&wo.Status,
		&wo.TechnicianID,
		&wo.VendorID,
		&wo.TenantID,
		&wo.ChargeToTenant,
		&wo.CostEstimate,
		&wo.ActualCost,
		&wo.ZeroCost,
		&wo.Currency,
		&wo.AssessmentNotes,
		&wo.SolutionNotes,
		&wo.CreatedBy,
		&wo.CreatedAt,
		&wo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wo, nil
}
