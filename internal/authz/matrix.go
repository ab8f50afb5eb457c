package authz

import "fmt"

type actionSet map[Action]struct{}

func actions(list ...Action) actionSet {
	s := make(actionSet, len(list))
	for _, a := range list {
		s[a] = struct{}{}
	}
	return s
}

func (s actionSet) contains(a Action) bool {
	_, ok := s[a]
	return ok
}

var none = actions()

var allActions = actions(
	ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionApprove,
	ActionReject, ActionAssign, ActionUploadEvidence, ActionExport, ActionComment,
)

// planModules gates module visibility per subscription tier, independent of
// role. Tiers are cumulative.
var planModules = map[Plan]map[Module]bool{
	PlanStarter: {
		ModuleWorkOrderCreate:       true,
		ModuleWorkOrderTracking:     true,
		ModulePreventiveMaintenance: false,
		ModulePropertyListing:       true,
		ModuleUnitManagement:        false,
		ModuleLeaseManagement:       false,
		ModuleInspections:           false,
		ModuleDocuments:             false,
	},
	PlanStandard: {
		ModuleWorkOrderCreate:       true,
		ModuleWorkOrderTracking:     true,
		ModulePreventiveMaintenance: false,
		ModulePropertyListing:       true,
		ModuleUnitManagement:        true,
		ModuleLeaseManagement:       true,
		ModuleInspections:           false,
		ModuleDocuments:             true,
	},
	PlanPro: {
		ModuleWorkOrderCreate:       true,
		ModuleWorkOrderTracking:     true,
		ModulePreventiveMaintenance: true,
		ModulePropertyListing:       true,
		ModuleUnitManagement:        true,
		ModuleLeaseManagement:       true,
		ModuleInspections:           true,
		ModuleDocuments:             true,
	},
	PlanEnterprise: {
		ModuleWorkOrderCreate:       true,
		ModuleWorkOrderTracking:     true,
		ModulePreventiveMaintenance: true,
		ModulePropertyListing:       true,
		ModuleUnitManagement:        true,
		ModuleLeaseManagement:       true,
		ModuleInspections:           true,
		ModuleDocuments:             true,
	},
}

// roleActions is the full Role x Module grant table. Every pair is listed
// explicitly, empty sets included, so ValidateMatrix can prove totality.
var roleActions = map[Role]map[Module]actionSet{
	RoleSuperAdmin: {
		ModuleWorkOrderCreate:       allActions,
		ModuleWorkOrderTracking:     allActions,
		ModulePreventiveMaintenance: allActions,
		ModulePropertyListing:       allActions,
		ModuleUnitManagement:        allActions,
		ModuleLeaseManagement:       allActions,
		ModuleInspections:           allActions,
		ModuleDocuments:             allActions,
	},
	RoleCorporateAdmin: {
		ModuleWorkOrderCreate:       allActions,
		ModuleWorkOrderTracking:     allActions,
		ModulePreventiveMaintenance: allActions,
		ModulePropertyListing:       allActions,
		ModuleUnitManagement:        allActions,
		ModuleLeaseManagement:       allActions,
		ModuleInspections:           allActions,
		ModuleDocuments:             allActions,
	},
	RoleManagement: {
		ModuleWorkOrderCreate:       actions(ActionView, ActionCreate, ActionUpdate, ActionComment),
		ModuleWorkOrderTracking:     actions(ActionView, ActionUpdate, ActionApprove, ActionReject, ActionAssign, ActionExport, ActionComment),
		ModulePreventiveMaintenance: actions(ActionView, ActionCreate, ActionUpdate, ActionAssign),
		ModulePropertyListing:       actions(ActionView, ActionCreate, ActionUpdate, ActionExport),
		ModuleUnitManagement:        actions(ActionView, ActionCreate, ActionUpdate),
		ModuleLeaseManagement:       actions(ActionView, ActionCreate, ActionUpdate, ActionApprove),
		ModuleInspections:           actions(ActionView, ActionCreate, ActionUpdate, ActionAssign),
		ModuleDocuments:             actions(ActionView, ActionCreate, ActionUpdate, ActionExport),
	},
	RoleFinance: {
		ModuleWorkOrderCreate:       actions(ActionView),
		ModuleWorkOrderTracking:     actions(ActionView, ActionApprove, ActionReject, ActionExport, ActionComment),
		ModulePreventiveMaintenance: actions(ActionView),
		ModulePropertyListing:       actions(ActionView, ActionExport),
		ModuleUnitManagement:        actions(ActionView),
		ModuleLeaseManagement:       actions(ActionView, ActionExport),
		ModuleInspections:           actions(ActionView),
		ModuleDocuments:             actions(ActionView, ActionCreate, ActionExport),
	},
	RoleHR: {
		ModuleWorkOrderCreate:       actions(ActionView),
		ModuleWorkOrderTracking:     actions(ActionView),
		ModulePreventiveMaintenance: none,
		ModulePropertyListing:       none,
		ModuleUnitManagement:        none,
		ModuleLeaseManagement:       none,
		ModuleInspections:           none,
		ModuleDocuments:             actions(ActionView, ActionCreate),
	},
	RoleEmployee: {
		ModuleWorkOrderCreate:       actions(ActionView, ActionCreate, ActionComment),
		ModuleWorkOrderTracking:     actions(ActionView, ActionComment),
		ModulePreventiveMaintenance: none,
		ModulePropertyListing:       none,
		ModuleUnitManagement:        none,
		ModuleLeaseManagement:       none,
		ModuleInspections:           none,
		ModuleDocuments:             actions(ActionView),
	},
	RolePropertyOwner: {
		ModuleWorkOrderCreate:       actions(ActionView, ActionCreate, ActionComment),
		ModuleWorkOrderTracking:     actions(ActionView, ActionApprove, ActionReject, ActionComment),
		ModulePreventiveMaintenance: actions(ActionView),
		ModulePropertyListing:       actions(ActionView, ActionCreate, ActionUpdate),
		ModuleUnitManagement:        actions(ActionView),
		ModuleLeaseManagement:       actions(ActionView, ActionApprove),
		ModuleInspections:           actions(ActionView),
		ModuleDocuments:             actions(ActionView),
	},
	RoleOwnerDeputy: {
		ModuleWorkOrderCreate:       actions(ActionView, ActionCreate, ActionComment),
		ModuleWorkOrderTracking:     actions(ActionView, ActionApprove, ActionReject, ActionComment),
		ModulePreventiveMaintenance: actions(ActionView),
		ModulePropertyListing:       actions(ActionView, ActionUpdate),
		ModuleUnitManagement:        actions(ActionView),
		ModuleLeaseManagement:       actions(ActionView, ActionApprove),
		ModuleInspections:           actions(ActionView),
		ModuleDocuments:             actions(ActionView),
	},
	RoleTechnician: {
		ModuleWorkOrderCreate:       actions(ActionView),
		ModuleWorkOrderTracking:     actions(ActionView, ActionUpdate, ActionUploadEvidence, ActionComment),
		ModulePreventiveMaintenance: actions(ActionView, ActionUpdate),
		ModulePropertyListing:       none,
		ModuleUnitManagement:        none,
		ModuleLeaseManagement:       none,
		ModuleInspections:           actions(ActionView, ActionUpdate, ActionUploadEvidence),
		ModuleDocuments:             none,
	},
	RoleTenant: {
		ModuleWorkOrderCreate:       actions(ActionView, ActionCreate, ActionUploadEvidence, ActionComment),
		ModuleWorkOrderTracking:     actions(ActionView, ActionComment),
		ModulePreventiveMaintenance: none,
		ModulePropertyListing:       none,
		ModuleUnitManagement:        none,
		ModuleLeaseManagement:       none,
		ModuleInspections:           none,
		ModuleDocuments:             actions(ActionView),
	},
	RoleVendor: {
		ModuleWorkOrderCreate:       none,
		ModuleWorkOrderTracking:     actions(ActionView, ActionUpdate, ActionUploadEvidence, ActionComment),
		ModulePreventiveMaintenance: none,
		ModulePropertyListing:       none,
		ModuleUnitManagement:        none,
		ModuleLeaseManagement:       none,
		ModuleInspections:           none,
		ModuleDocuments:             none,
	},
	RoleGuest: {
		ModuleWorkOrderCreate:       none,
		ModuleWorkOrderTracking:     none,
		ModulePreventiveMaintenance: none,
		ModulePropertyListing:       actions(ActionView),
		ModuleUnitManagement:        none,
		ModuleLeaseManagement:       none,
		ModuleInspections:           none,
		ModuleDocuments:             none,
	},
}

// ownershipRequired lists the module/action pairs that additionally require
// the actor to be the owner of record of the target resource. Only owner
// roles carry ownership-gated grants.
var ownershipRequired = map[Role]map[Module]actionSet{
	RolePropertyOwner: {
		ModuleWorkOrderTracking: actions(ActionApprove, ActionReject),
		ModulePropertyListing:   actions(ActionUpdate, ActionDelete),
		ModuleLeaseManagement:   actions(ActionApprove),
	},
	RoleOwnerDeputy: {
		ModuleWorkOrderTracking: actions(ActionApprove, ActionReject),
		ModulePropertyListing:   actions(ActionUpdate, ActionDelete),
		ModuleLeaseManagement:   actions(ActionApprove),
	},
}

// ValidateMatrix proves the tables are total: every plan covers every module
// and every role has a defined (possibly empty) action set for every module.
// Called once at startup; a failure is a programming error.
func ValidateMatrix() error {
	for _, plan := range AllPlans {
		mods, ok := planModules[plan]
		if !ok {
			return fmt.Errorf("plan %s has no module table", plan)
		}
		for _, m := range AllModules {
			if _, ok := mods[m]; !ok {
				return fmt.Errorf("plan %s does not define module %s", plan, m)
			}
		}
	}

	for _, role := range AllRoles {
		mods, ok := roleActions[role]
		if !ok {
			return fmt.Errorf("role %s has no action table", role)
		}
		for _, m := range AllModules {
			if _, ok := mods[m]; !ok {
				return fmt.Errorf("role %s does not define an action set for module %s", role, m)
			}
		}
	}

	return nil
}
