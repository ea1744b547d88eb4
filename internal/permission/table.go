package permission

// table is the single source of role capabilities. Every role lists every
// capability explicitly; seniority does not imply a superset.
var table = map[Role]map[Capability]bool{
	RoleSuperAdmin: {
		ViewAllProjects:  true,
		CreateProjects:   true,
		ManageProjects:   true,
		CreateTasks:      true,
		AssignTasks:      true,
		EditTasks:        true,
		DeleteTasks:      true,
		AddComments:      true,
		DeleteComments:   true,
		UpdateTaskStatus: true,
		RequestReview:    true,
		ReviewTasks:      true,
		ViewAllUsers:     true,
		ManageUsers:      true,
		UploadFiles:      true,
		ViewDashboard:    true,
	},
	RoleAdmin: {
		ViewAllProjects:  true,
		CreateProjects:   true,
		ManageProjects:   true,
		CreateTasks:      true,
		AssignTasks:      true,
		EditTasks:        true,
		DeleteTasks:      false,
		AddComments:      true,
		DeleteComments:   true,
		UpdateTaskStatus: true,
		RequestReview:    true,
		ReviewTasks:      true,
		ViewAllUsers:     true,
		ManageUsers:      false,
		UploadFiles:      true,
		ViewDashboard:    true,
	},
	RoleUser: {
		ViewAllProjects:  false,
		CreateProjects:   false,
		ManageProjects:   false,
		CreateTasks:      false,
		AssignTasks:      false,
		EditTasks:        false,
		DeleteTasks:      false,
		AddComments:      true,
		DeleteComments:   false,
		UpdateTaskStatus: true,
		RequestReview:    true,
		ReviewTasks:      false,
		ViewAllUsers:     false,
		ManageUsers:      false,
		UploadFiles:      true,
		ViewDashboard:    true,
	},
}

var resolved = func() map[Role]Capabilities {
	out := make(map[Role]Capabilities, len(table))
	for role, row := range table {
		set := make(map[Capability]bool, len(row))
		for capability, granted := range row {
			if granted {
				set[capability] = true
			}
		}
		out[role] = Capabilities{set: set}
	}
	return out
}()

// CapabilitiesFor returns the capability set of role. Unknown roles get the
// empty set. The returned value shares storage with every other call for the
// same role and must not be modified.
func CapabilitiesFor(role Role) Capabilities {
	return resolved[role]
}

// Valid reports whether role is one of the fixed roles.
func (r Role) Valid() bool {
	_, ok := table[r]
	return ok
}
