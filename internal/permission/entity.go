package permission

import (
	"fmt"
	"sort"

	"github.com/kazz187/worktrack/pkg/cerr"
)

// Role is the name of one of the fixed user roles.
type Role string

const (
	RoleSuperAdmin Role = "SuperAdmin"
	RoleAdmin      Role = "Admin"
	RoleUser       Role = "User"
)

// Roles lists every known role in seniority order.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleUser}

// Capability is a named boolean permission derived solely from a role.
type Capability string

const (
	ViewAllProjects  Capability = "view_all_projects"
	CreateProjects   Capability = "create_projects"
	ManageProjects   Capability = "manage_projects"
	CreateTasks      Capability = "create_tasks"
	AssignTasks      Capability = "assign_tasks"
	EditTasks        Capability = "edit_tasks"
	DeleteTasks      Capability = "delete_tasks"
	AddComments      Capability = "add_comments"
	DeleteComments   Capability = "delete_comments"
	UpdateTaskStatus Capability = "update_task_status"
	RequestReview    Capability = "request_review"
	ReviewTasks      Capability = "review_tasks"
	ViewAllUsers     Capability = "view_all_users"
	ManageUsers      Capability = "manage_users"
	UploadFiles      Capability = "upload_files"
	ViewDashboard    Capability = "view_dashboard"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	ViewAllProjects,
	CreateProjects,
	ManageProjects,
	CreateTasks,
	AssignTasks,
	EditTasks,
	DeleteTasks,
	AddComments,
	DeleteComments,
	UpdateTaskStatus,
	RequestReview,
	ReviewTasks,
	ViewAllUsers,
	ManageUsers,
	UploadFiles,
	ViewDashboard,
}

// Capabilities is an immutable capability set.
type Capabilities struct {
	set map[Capability]bool
}

func (c Capabilities) Has(capability Capability) bool {
	return c.set[capability]
}

// List returns the granted capabilities sorted by name.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c.set))
	for capability, granted := range c.set {
		if granted {
			out = append(out, capability)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require fails closed: it returns a PermissionDenied error unless capability
// is granted.
func Require(c Capabilities, capability Capability) error {
	if c.Has(capability) {
		return nil
	}
	return cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("missing capability %s", capability), nil).
		AddDetailMessageWithCode(fmt.Sprintf("the %s capability is required", capability), string(capability))
}
