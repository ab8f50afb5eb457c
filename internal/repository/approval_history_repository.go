package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/proplio/be-fm-engine/internal/database"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// ApprovalHistoryRepository reads the immutable workflow history. Appends
// happen inside workflow transactions (appendHistoryTx); the table carries a
// delete/update-prevention trigger, so no mutation surface exists here.
type ApprovalHistoryRepository struct {
	db *database.DB
}

// NewApprovalHistoryRepository creates a new ApprovalHistoryRepository.
func NewApprovalHistoryRepository(db *database.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{db: db}
}

// ListByWorkflow returns a workflow's full history, oldest first.
func (r *ApprovalHistoryRepository) ListByWorkflow(ctx context.Context, scope tenant.Scope, workflowID string) ([]*ApprovalHistoryEntry, error) {
	where, args := scope.Filter().Where("workflow_id = ?", workflowID).Build(1, "organization_id")
	query := `
		SELECT id, workflow_id, organization_id, stage_index, action,
		       actor_id, delegate_to, note, deadline_key, metadata, created_at
		FROM approval_history
		WHERE ` + where + `
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

// appendHistoryTx inserts one history entry inside an open transaction.
func appendHistoryTx(ctx context.Context, tx pgx.Tx, entry *ApprovalHistoryEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history metadata")
		}
	}

	query := `
		INSERT INTO approval_history
		    (workflow_id, organization_id, stage_index, action,
		     actor_id, delegate_to, note, deadline_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.WorkflowID,
		entry.OrganizationID,
		entry.StageIndex,
		entry.Action,
		entry.ActorID,
		entry.DelegateTo,
		entry.Note,
		entry.DeadlineKey,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanHistoryRows(rows pgx.Rows) ([]*ApprovalHistoryEntry, error) {
	var entries []*ApprovalHistoryEntry
	for rows.Next() {
		e := &ApprovalHistoryEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.WorkflowID,
			&e.OrganizationID,
			&e.StageIndex,
			&e.Action,
			&e.ActorID,
			&e.DelegateTo,
			&e.Note,
			&e.DeadlineKey,
			&metadataJSON,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal history metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
