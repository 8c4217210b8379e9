package rbac

// Rank totally orders organizational roles. A user's effective rank is the
// maximum over assigned roles; resource-specific roles carry rank 0.
type Rank int

const (
	RankNone    Rank = 0
	RankUser    Rank = 1
	RankManager Rank = 2
	RankAdmin   Rank = 3
)

// Organizational role names.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleUser    = "USER"
)

// Resource-specific role names.
const (
	RoleDocumentViewer = "DOCUMENT_VIEWER"
	RoleDocumentEditor = "DOCUMENT_EDITOR"
)

// Permission names.
const (
	PermReadDocuments   = "READ_DOCUMENTS"
	PermWriteDocuments  = "WRITE_DOCUMENTS"
	PermDeleteDocuments = "DELETE_DOCUMENTS"
	PermManageUsers     = "MANAGE_USERS"
	PermAssignRoles     = "ASSIGN_ROLES"
)

// Role is a named privilege bundle.
type Role struct {
	Name        string   `json:"name"`
	Rank        Rank     `json:"rank"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the role carries the named permission.
func (r *Role) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// BuiltinRoles is the closed role catalog seeded at startup. ADMIN holds
// every permission; the plain USER role holds none so that document access
// must flow through JIT grants.
var BuiltinRoles = []Role{
	{
		Name:        RoleAdmin,
		Rank:        RankAdmin,
		Description: "Administrator with full system access",
		Permissions: []string{PermReadDocuments, PermWriteDocuments, PermDeleteDocuments, PermManageUsers, PermAssignRoles},
	},
	{
		Name:        RoleManager,
		Rank:        RankManager,
		Description: "Manager with elevated privileges",
		Permissions: []string{PermReadDocuments, PermWriteDocuments},
	},
	{
		Name:        RoleUser,
		Rank:        RankUser,
		Description: "Standard user with basic access",
		Permissions: nil,
	},
	{
		Name:        RoleDocumentViewer,
		Rank:        RankNone,
		Description: "Can view documents",
		Permissions: []string{PermReadDocuments},
	},
	{
		Name:        RoleDocumentEditor,
		Rank:        RankNone,
		Description: "Can edit documents",
		Permissions: []string{PermReadDocuments, PermWriteDocuments},
	},
}
