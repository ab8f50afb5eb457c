package authz

// Can is the authorization decision function. It is pure, total, and fails
// closed: any input it cannot positively match against the matrix denies.
//
// Decision order:
//  1. deny when the plan does not enable the module, for every role
//  2. deny when the role's action set for the module lacks the action
//  3. deny cross-organization access (SUPER_ADMIN is the one exception)
//  4. deny ownership-gated actions when the actor is not the owner of record
func Can(actor Actor, plan Plan, module Module, action Action, rc ResourceContext) bool {
	if actor.ID == "" || actor.Role == "" || actor.OrganizationID == "" {
		return false
	}

	mods, ok := planModules[plan]
	if !ok {
		return false
	}
	if !mods[module] {
		return false
	}

	grants, ok := roleActions[actor.Role]
	if !ok {
		return false
	}
	set, ok := grants[module]
	if !ok {
		return false
	}
	if !set.contains(action) {
		return false
	}

	// SUPER_ADMIN is the only role permitted to cross organization
	// boundaries; the plan and action checks above still apply to it.
	if actor.Role != RoleSuperAdmin {
		if rc.OrganizationID == "" || rc.OrganizationID != actor.OrganizationID {
			return false
		}
	}

	if owned, ok := ownershipRequired[actor.Role]; ok {
		if set, ok := owned[module]; ok && set.contains(action) {
			if rc.OwnerID == "" || rc.OwnerID != actor.ID {
				return false
			}
		}
	}

	return true
}
