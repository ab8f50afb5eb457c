package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/errors"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/tenant"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", ServiceName: "test"})
}

func testScope() tenant.Scope {
	return tenant.MustScope("org-1")
}

// ── work order store fake ────────────────────────────────────────────────────

// fakeWorkOrderStore keeps one work order in memory and reproduces the
// repository's transition semantics: replay detection by request id, apply
// then post, history append.
type fakeWorkOrderStore struct {
	wo        *repository.WorkOrder
	providers map[string]*repository.ServiceProvider
	history   []*repository.WorkOrderHistoryEntry
	replays   map[string]*repository.TransitionRecord
	postErr   error
}

func newFakeWorkOrderStore(wo *repository.WorkOrder) *fakeWorkOrderStore {
	return &fakeWorkOrderStore{
		wo:        wo,
		providers: make(map[string]*repository.ServiceProvider),
		replays:   make(map[string]*repository.TransitionRecord),
	}
}

func (f *fakeWorkOrderStore) Create(ctx context.Context, scope tenant.Scope, wo *repository.WorkOrder) error {
	wo.ID = "wo-new"
	wo.OrganizationID = scope.OrganizationID()
	wo.Status = repository.StatusDraft
	f.wo = wo
	return nil
}

func (f *fakeWorkOrderStore) GetByID(ctx context.Context, scope tenant.Scope, id string) (*repository.WorkOrder, error) {
	if f.wo == nil || f.wo.ID != id {
		return nil, errors.NotFound("work_order", id)
	}
	if err := scope.Owns("work_order", id, f.wo.OrganizationID); err != nil {
		return nil, err
	}
	return f.wo, nil
}

func (f *fakeWorkOrderStore) AddAttachment(ctx context.Context, scope tenant.Scope, att *repository.Attachment) error {
	att.ID = "att-1"
	f.wo.Attachments = append(f.wo.Attachments, *att)
	return nil
}

func (f *fakeWorkOrderStore) SetAssessmentNotes(ctx context.Context, scope tenant.Scope, id, notes string) error {
	f.wo.AssessmentNotes = &notes
	return nil
}

func (f *fakeWorkOrderStore) SetSolutionNotes(ctx context.Context, scope tenant.Scope, id, notes string) error {
	f.wo.SolutionNotes = &notes
	return nil
}

func (f *fakeWorkOrderStore) SetCostEstimate(ctx context.Context, scope tenant.Scope, id string, amount int64) error {
	f.wo.CostEstimate = amount
	return nil
}

func (f *fakeWorkOrderStore) SetActualCost(ctx context.Context, scope tenant.Scope, id string, amount int64, zeroCost bool) error {
	f.wo.ActualCost = amount
	f.wo.ZeroCost = zeroCost
	return nil
}

func (f *fakeWorkOrderStore) AssignTechnician(ctx context.Context, scope tenant.Scope, id, technicianID string) error {
	f.wo.TechnicianID = &technicianID
	return nil
}

func (f *fakeWorkOrderStore) AssignVendor(ctx context.Context, scope tenant.Scope, id, vendorID string) error {
	f.wo.VendorID = &vendorID
	return nil
}

func (f *fakeWorkOrderStore) GetProvider(ctx context.Context, id string) (*repository.ServiceProvider, error) {
	p, ok := f.providers[id]
	if !ok {
		return nil, errors.NotFound("service_provider", id)
	}
	return p, nil
}

func (f *fakeWorkOrderStore) ApplyTransition(
	ctx context.Context,
	scope tenant.Scope,
	workOrderID, requestID string,
	apply repository.TransitionApplyFunc,
	post repository.TransitionPostFunc,
) (*repository.TransitionRecord, error) {
	if f.wo == nil || f.wo.ID != workOrderID {
		return nil, errors.NotFound("work_order", workOrderID)
	}
	if err := scope.Owns("work_order", workOrderID, f.wo.OrganizationID); err != nil {
		return nil, err
	}
	if prior, ok := f.replays[requestID]; ok {
		return &repository.TransitionRecord{
			WorkOrder: prior.WorkOrder,
			Entry:     prior.Entry,
			Replayed:  true,
		}, nil
	}

	entry, err := apply(f.wo)
	if err != nil {
		return nil, err
	}
	entry.WorkOrderID = f.wo.ID
	entry.RequestID = requestID

	if post != nil {
		if err := post(ctx, nil, f.wo); err != nil {
			return nil, err
		}
	}
	if f.postErr != nil {
		return nil, f.postErr
	}

	f.history = append(f.history, entry)
	record := &repository.TransitionRecord{WorkOrder: f.wo, Entry: entry}
	f.replays[requestID] = record
	return record, nil
}

func (f *fakeWorkOrderStore) History(ctx context.Context, scope tenant.Scope, workOrderID string) ([]*repository.WorkOrderHistoryEntry, error) {
	return f.history, nil
}

// ── approval workflow store fake ─────────────────────────────────────────────

// fakeWorkflowStore keeps workflows in memory and reproduces ApplyDecision's
// apply-then-persist contract, including the noop skip.
type fakeWorkflowStore struct {
	workflows map[string]*repository.ApprovalWorkflow
	stages    map[string][]*repository.ApprovalStage
	history   map[string][]*repository.ApprovalHistoryEntry
	nextID    int
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		workflows: make(map[string]*repository.ApprovalWorkflow),
		stages:    make(map[string][]*repository.ApprovalStage),
		history:   make(map[string][]*repository.ApprovalHistoryEntry),
	}
}

func (f *fakeWorkflowStore) Create(ctx context.Context, scope tenant.Scope, wf *repository.ApprovalWorkflow, stages []*repository.ApprovalStage, entry *repository.ApprovalHistoryEntry) error {
	f.nextID++
	wf.ID = fmt.Sprintf("wf-%d", f.nextID)
	wf.OrganizationID = scope.OrganizationID()
	for i, st := range stages {
		st.WorkflowID = wf.ID
		st.OrganizationID = wf.OrganizationID
		st.Index = i
	}
	f.workflows[wf.ID] = wf
	f.stages[wf.ID] = stages
	entry.WorkflowID = wf.ID
	entry.OrganizationID = wf.OrganizationID
	f.history[wf.ID] = append(f.history[wf.ID], entry)
	return nil
}

func (f *fakeWorkflowStore) GetByID(ctx context.Context, scope tenant.Scope, id string) (*repository.ApprovalWorkflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, errors.WorkflowNotFound(id)
	}
	if !scope.IsGlobal() && wf.OrganizationID != scope.OrganizationID() {
		return nil, errors.WorkflowNotFound(id)
	}
	return wf, nil
}

func (f *fakeWorkflowStore) GetActiveByEntity(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (*repository.ApprovalWorkflow, error) {
	for _, wf := range f.workflows {
		if wf.EntityType == entityType && wf.EntityID == entityID &&
			wf.Status == repository.WorkflowPending &&
			(scope.IsGlobal() || wf.OrganizationID == scope.OrganizationID()) {
			return wf, nil
		}
	}
	return nil, nil
}

func (f *fakeWorkflowStore) HasApprovedWorkflow(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (bool, error) {
	for _, wf := range f.workflows {
		if wf.EntityType == entityType && wf.EntityID == entityID &&
			wf.Status == repository.WorkflowApproved &&
			(scope.IsGlobal() || wf.OrganizationID == scope.OrganizationID()) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWorkflowStore) GetStages(ctx context.Context, scope tenant.Scope, workflowID string) ([]*repository.ApprovalStage, error) {
	stages, ok := f.stages[workflowID]
	if !ok {
		return nil, errors.WorkflowNotFound(workflowID)
	}
	return stages, nil
}

func (f *fakeWorkflowStore) ApplyDecision(ctx context.Context, scope tenant.Scope, workflowID string, apply repository.DecisionApplyFunc) (*repository.DecisionRecord, error) {
	wf, err := f.GetByID(ctx, scope, workflowID)
	if err != nil {
		return nil, err
	}
	stages := f.stages[workflowID]

	entry, err := apply(wf, stages)
	if err == repository.DecisionNoop() {
		return &repository.DecisionRecord{Workflow: wf, Stages: stages, Skipped: true}, nil
	}
	if err != nil {
		return nil, err
	}

	entry.WorkflowID = wf.ID
	entry.OrganizationID = wf.OrganizationID
	f.history[wf.ID] = append(f.history[wf.ID], entry)
	return &repository.DecisionRecord{Workflow: wf, Stages: stages, Entry: entry}, nil
}

func (f *fakeWorkflowStore) ListExpired(ctx context.Context, now time.Time) ([]repository.ExpiredWorkflowRef, error) {
	var refs []repository.ExpiredWorkflowRef
	for id, wf := range f.workflows {
		if wf.Status != repository.WorkflowPending {
			continue
		}
		stages := f.stages[id]
		if wf.CurrentStage >= len(stages) {
			continue
		}
		st := stages[wf.CurrentStage]
		if st.Deadline.Before(now) &&
			(st.EscalatedFor == nil || st.EscalatedFor.Before(st.Deadline)) {
			refs = append(refs, repository.ExpiredWorkflowRef{
				WorkflowID:     id,
				OrganizationID: wf.OrganizationID,
			})
		}
	}
	return refs, nil
}

func (f *fakeWorkflowStore) GetPendingForUser(ctx context.Context, scope tenant.Scope, userID string) ([]*repository.ApprovalStage, error) {
	var out []*repository.ApprovalStage
	for id, wf := range f.workflows {
		if wf.Status != repository.WorkflowPending || wf.OrganizationID != scope.OrganizationID() {
			continue
		}
		st := f.stages[id][wf.CurrentStage]
		if a := st.FindApprover(userID); a != nil && a.Status == repository.ApproverPending {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeWorkflowStore) historyActions(workflowID string) []string {
	var actions []string
	for _, e := range f.history[workflowID] {
		actions = append(actions, e.Action)
	}
	return actions
}

// ── rule store fake ──────────────────────────────────────────────────────────

type fakeRuleStore struct {
	rules []*repository.ApprovalRule
}

func (f *fakeRuleStore) Create(ctx context.Context, scope tenant.Scope, rule *repository.ApprovalRule) error {
	rule.ID = "rule-custom"
	rule.OrganizationID = scope.OrganizationID()
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeRuleStore) ListActive(ctx context.Context, scope tenant.Scope) ([]*repository.ApprovalRule, error) {
	var out []*repository.ApprovalRule
	for _, r := range f.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) GetByID(ctx context.Context, scope tenant.Scope, id string) (*repository.ApprovalRule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.NotFound("approval_rule", id)
}

func (f *fakeRuleStore) Deactivate(ctx context.Context, scope tenant.Scope, id string) error {
	for _, r := range f.rules {
		if r.ID == id {
			r.IsActive = false
			return nil
		}
	}
	return errors.NotFound("approval_rule", id)
}

// ── history store fake ───────────────────────────────────────────────────────

type fakeHistoryStore struct {
	store *fakeWorkflowStore
}

func (f *fakeHistoryStore) ListByWorkflow(ctx context.Context, scope tenant.Scope, workflowID string) ([]*repository.ApprovalHistoryEntry, error) {
	return f.store.history[workflowID], nil
}

// ── testify mocks for thin collaborators ─────────────────────────────────────

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) GetUsersWithRole(ctx context.Context, organizationID, role string) ([]string, error) {
	args := m.Called(ctx, organizationID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) DispatchApprovalEvent(ctx context.Context, event EventType, wf *repository.ApprovalWorkflow, recipients []string) {
	m.Called(ctx, event, wf, recipients)
}

// relaxedNotifier accepts every dispatch and records event types.
type relaxedNotifier struct {
	events []EventType
}

func (n *relaxedNotifier) DispatchApprovalEvent(ctx context.Context, event EventType, wf *repository.ApprovalWorkflow, recipients []string) {
	n.events = append(n.events, event)
}

type recordingDispatcher struct {
	events []EventType
}

func (d *recordingDispatcher) DispatchWorkOrderEvent(ctx context.Context, event EventType, wo *repository.WorkOrder, actor authz.Actor) {
	d.events = append(d.events, event)
}

type mockFinancePoster struct {
	mock.Mock
}

func (m *mockFinancePoster) PostClosure(ctx context.Context, tx pgx.Tx, wo *repository.WorkOrder) error {
	args := m.Called(ctx, tx, wo)
	return args.Error(0)
}

type stubGate struct {
	approved bool
	err      error
	routed   []*RouteRequest
	routeErr error
}

func (g *stubGate) Route(ctx context.Context, scope tenant.Scope, req *RouteRequest) (*repository.ApprovalWorkflow, error) {
	if g.routeErr != nil {
		return nil, g.routeErr
	}
	g.routed = append(g.routed, req)
	return &repository.ApprovalWorkflow{EntityType: req.EntityType, EntityID: req.EntityID}, nil
}

func (g *stubGate) EntityApproved(ctx context.Context, scope tenant.Scope, entityType repository.EntityType, entityID string) (bool, error) {
	return g.approved, g.err
}

type mockScanLock struct {
	mock.Mock
}

func (m *mockScanLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockScanLock) Release(ctx context.Context, key string) {
	m.Called(ctx, key)
}

// alwaysLock grants every acquisition.
type alwaysLock struct{}

func (alwaysLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (alwaysLock) Release(ctx context.Context, key string) {}

// staticDirectory returns a fixed user set per role.
type staticDirectory struct {
	usersByRole map[string][]string
	err         error
}

func (d *staticDirectory) GetUsersWithRole(ctx context.Context, organizationID, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.usersByRole[role], nil
}
