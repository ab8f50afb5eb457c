package handler

import (
	"context"
	"encoding/json"
	"net/http"

	stderrors "errors"

	"github.com/google/uuid"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/service"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

// HTTPHandler handles HTTP requests. The gateway terminates authentication
// and forwards the verified identity in headers; this service trusts them.
type HTTPHandler struct {
	workOrders *service.WorkOrderService
	approvals  *service.ApprovalRoutingService
	finance    *service.FinancePostingService
	log        *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	workOrders *service.WorkOrderService,
	approvals *service.ApprovalRoutingService,
	finance *service.FinancePostingService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		workOrders: workOrders,
		approvals:  approvals,
		finance:    finance,
		log:        log,
	}
}

// Register wires all routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)

	mux.HandleFunc("/api/v1/work-orders", h.WorkOrders)
	mux.HandleFunc("/api/v1/work-orders/transition", h.Transition)
	mux.HandleFunc("/api/v1/work-orders/assign", h.Assign)
	mux.HandleFunc("/api/v1/work-orders/attachments", h.AddAttachment)
	mux.HandleFunc("/api/v1/work-orders/assessment", h.RecordAssessment)
	mux.HandleFunc("/api/v1/work-orders/solution", h.RecordSolution)
	mux.HandleFunc("/api/v1/work-orders/estimate", h.RecordCostEstimate)
	mux.HandleFunc("/api/v1/work-orders/actual-cost", h.RecordActualCost)
	mux.HandleFunc("/api/v1/work-orders/history", h.WorkOrderHistory)

	mux.HandleFunc("/api/v1/approvals", h.Approvals)
	mux.HandleFunc("/api/v1/approvals/route", h.RouteApproval)
	mux.HandleFunc("/api/v1/approvals/decide", h.Decide)
	mux.HandleFunc("/api/v1/approvals/cancel", h.CancelApproval)
	mux.HandleFunc("/api/v1/approvals/pending", h.PendingApprovals)
	mux.HandleFunc("/api/v1/approvals/history", h.ApprovalHistory)

	mux.HandleFunc("/api/v1/approval-rules", h.ApprovalRules)
	mux.HandleFunc("/api/v1/approval-rules/deactivate", h.DeactivateRule)

	mux.HandleFunc("/api/v1/finance/transactions", h.ListTransactions)
	mux.HandleFunc("/api/v1/finance/statements", h.GetOwnerStatement)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── identity extraction ──────────────────────────────────────────────────────

type callerContext struct {
	actor authz.Actor
	plan  authz.Plan
	scope tenant.Scope
}

// caller builds the actor, plan and tenant scope from gateway headers.
// SUPER_ADMIN callers may omit X-Org-Id to get the audited global scope.
func (h *HTTPHandler) caller(r *http.Request) (*callerContext, error) {
	actorID := r.Header.Get("X-Actor-Id")
	role := authz.Role(r.Header.Get("X-Actor-Role"))
	orgID := r.Header.Get("X-Org-Id")
	plan := authz.Plan(r.Header.Get("X-Plan"))

	if actorID == "" || role == "" {
		return nil, errors.Unauthorized("missing caller identity headers")
	}
	if plan == "" {
		plan = authz.PlanStarter
	}

	actor := authz.Actor{ID: actorID, Role: role, OrganizationID: orgID}

	var scope tenant.Scope
	if orgID == "" {
		if role != authz.RoleSuperAdmin {
			return nil, errors.Unauthorized("missing organization header")
		}
		// The only place a global scope is minted; every use leaves a trail.
		h.log.Info().
			Str("actor_id", actorID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get("X-Request-Id")).
			Msg("Cross-organization scope granted to super admin")
		scope = tenant.Global(actorID)
	} else {
		var err error
		scope, err = tenant.NewScope(orgID)
		if err != nil {
			return nil, err
		}
	}

	return &callerContext{actor: actor, plan: plan, scope: scope}, nil
}

// ── work orders ──────────────────────────────────────────────────────────────

// WorkOrders dispatches create (POST) and get (GET).
func (h *HTTPHandler) WorkOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createWorkOrder(w, r)
	case http.MethodGet:
		h.getWorkOrder(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) createWorkOrder(w http.ResponseWriter, r *http.Request) {
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		PropertyID     string  `json:"property_id"`
		OwnerID        string  `json:"owner_id"`
		UnitID         *string `json:"unit_id,omitempty"`
		Title          string  `json:"title"`
		Description    *string `json:"description,omitempty"`
		Category       string  `json:"category"`
		TenantID       *string `json:"tenant_id,omitempty"`
		ChargeToTenant bool    `json:"charge_to_tenant"`
		Currency       string  `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wo, err := h.workOrders.CreateWorkOrder(r.Context(), cc.scope, cc.actor, cc.plan, &service.CreateWorkOrderRequest{
		PropertyID:     req.PropertyID,
		OwnerID:        req.OwnerID,
		UnitID:         req.UnitID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		TenantID:       req.TenantID,
		ChargeToTenant: req.ChargeToTenant,
		Currency:       req.Currency,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wo)
}

func (h *HTTPHandler) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Work order ID is required", http.StatusBadRequest)
		return
	}

	wo, err := h.workOrders.GetWorkOrder(r.Context(), cc.scope, cc.actor, cc.plan, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

// Transition handles state-machine transition requests.
func (h *HTTPHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkOrderID string  `json:"work_order_id"`
		Target      string  `json:"target"`
		RequestID   string  `json:"request_id"`
		Note        *string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkOrderID == "" || req.Target == "" {
		http.Error(w, "work_order_id and target are required", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		// Callers that want replay protection across retries supply their own.
		req.RequestID = uuid.NewString()
	}

	record, err := h.workOrders.Transition(r.Context(), cc.scope, cc.actor, cc.plan,
		req.WorkOrderID, repository.WorkOrderStatus(req.Target), req.RequestID, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"work_order": record.WorkOrder,
		"replayed":   record.Replayed,
	})
}

// Assign links a technician or vendor to a work order.
func (h *HTTPHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkOrderID string `json:"work_order_id"`
		ProviderID  string `json:"provider_id"`
		Kind        string `json:"kind"` // technician | vendor
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Kind {
	case "technician":
		err = h.workOrders.AssignTechnician(r.Context(), cc.scope, cc.actor, cc.plan, req.WorkOrderID, req.ProviderID)
	case "vendor":
		err = h.workOrders.AssignVendor(r.Context(), cc.scope, cc.actor, cc.plan, req.WorkOrderID, req.ProviderID)
	default:
		http.Error(w, "kind must be technician or vendor", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// AddAttachment records BEFORE/AFTER photo evidence.
func (h *HTTPHandler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkOrderID string `json:"work_order_id"`
		Tag         string `json:"tag"`
		URL         string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	att, err := h.workOrders.AddAttachment(r.Context(), cc.scope, cc.actor, cc.plan,
		req.WorkOrderID, repository.AttachmentTag(req.Tag), req.URL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// RecordAssessment stores the technician's findings.
func (h *HTTPHandler) RecordAssessment(w http.ResponseWriter, r *http.Request) {
	h.recordNotes(w, r, h.workOrders.RecordAssessment)
}

// RecordSolution stores the completed-work description.
func (h *HTTPHandler) RecordSolution(w http.ResponseWriter, r *http.Request) {
	h.recordNotes(w, r, h.workOrders.RecordSolution)
}

type notesRecorder func(ctx context.Context, scope tenant.Scope, actor authz.Actor, plan authz.Plan, workOrderID, notes string) error

func (h *HTTPHandler) recordNotes(w http.ResponseWriter, r *http.Request, record notesRecorder) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkOrderID string `json:"work_order_id"`
		Notes       string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := record(r.Context(), cc.scope, cc.actor, cc.plan, req.WorkOrderID, req.Notes); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// RecordCostEstimate stores the estimated cost in cents.
func (h *HTTPHandler) RecordCostEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkOrderID string `json:"work_order_id"`
		Amount      int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workOrders.RecordCostEstimate(r.Context(), cc.scope, cc.actor, cc.plan, req.WorkOrderID, req.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// RecordActualCost stores the final cost; zero_cost marks explicitly free work.
func (h *HTTPHandler) RecordActualCost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkOrderID string `json:"work_order_id"`
		Amount      int64  `json:"amount"`
		ZeroCost    bool   `json:"zero_cost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workOrders.RecordActualCost(r.Context(), cc.scope, cc.actor, cc.plan, req.WorkOrderID, req.Amount, req.ZeroCost); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// WorkOrderHistory returns the transition log.
func (h *HTTPHandler) WorkOrderHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Work order ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.workOrders.History(r.Context(), cc.scope, cc.actor, cc.plan, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ── approvals ────────────────────────────────────────────────────────────────

// Approvals handles get workflow (GET).
func (h *HTTPHandler) Approvals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	wf, stages, err := h.approvals.GetWorkflow(r.Context(), cc.scope, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow": wf,
		"stages":   stages,
	})
}

// RouteApproval creates an approval workflow for an entity.
func (h *HTTPHandler) RouteApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
		Category   string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := h.approvals.Route(r.Context(), cc.scope, &service.RouteRequest{
		EntityType:  repository.EntityType(req.EntityType),
		EntityID:    req.EntityID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		RequestedBy: cc.actor.ID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// Decide records an approve, reject or delegate action.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkflowID string  `json:"workflow_id"`
		Decision   string  `json:"decision"`
		DelegateTo string  `json:"delegate_to,omitempty"`
		Note       *string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := h.approvals.Decide(r.Context(), cc.scope, req.WorkflowID, cc.actor,
		service.Decision(req.Decision), req.DelegateTo, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// CancelApproval stops a pending workflow.
func (h *HTTPHandler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		WorkflowID string  `json:"workflow_id"`
		Note       *string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := h.approvals.Cancel(r.Context(), cc.scope, req.WorkflowID, cc.actor, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// PendingApprovals lists stages awaiting the caller's action.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	stages, err := h.approvals.GetPendingApprovals(r.Context(), cc.scope, cc.actor.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": stages})
}

// ApprovalHistory returns a workflow's action log.
func (h *HTTPHandler) ApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.approvals.GetHistory(r.Context(), cc.scope, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ── approval rules ───────────────────────────────────────────────────────────

// ApprovalRules dispatches create (POST) and list (GET).
func (h *HTTPHandler) ApprovalRules(w http.ResponseWriter, r *http.Request) {
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var rule repository.ApprovalRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.approvals.CreateRule(r.Context(), cc.scope, cc.actor, &rule); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)

	case http.MethodGet:
		rules, err := h.approvals.ListRules(r.Context(), cc.scope)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// DeactivateRule retires a routing rule.
func (h *HTTPHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		RuleID string `json:"rule_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.approvals.DeactivateRule(r.Context(), cc.scope, cc.actor, req.RuleID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ── finance ──────────────────────────────────────────────────────────────────

// ListTransactions returns a work order's ledger entries.
func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	workOrderID := r.URL.Query().Get("work_order_id")
	if workOrderID == "" {
		http.Error(w, "Work order ID is required", http.StatusBadRequest)
		return
	}

	txns, err := h.finance.ListTransactions(r.Context(), cc.scope, workOrderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// GetOwnerStatement returns one monthly owner statement.
func (h *HTTPHandler) GetOwnerStatement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cc, err := h.caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	propertyID := r.URL.Query().Get("property_id")
	period := r.URL.Query().Get("period")
	if ownerID == "" || propertyID == "" || period == "" {
		http.Error(w, "owner_id, property_id and period are required", http.StatusBadRequest)
		return
	}

	st, err := h.finance.GetOwnerStatement(r.Context(), cc.scope, ownerID, propertyID, period)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.Code(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	message := "internal error"
	var ae *errors.AppError
	if stderrors.As(err, &ae) {
		message = ae.Message
	}
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func statusForCode(code string) int {
	switch code {
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeNotFound, errors.ErrCodeWorkflowNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidTransition, errors.ErrCodeGuardNotSatisfied,
		errors.ErrCodeConflict, errors.ErrCodeStageMismatch,
		errors.ErrCodeCrossTenantReference:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
