package permission

// Resource namespace of the built-in role mapping.
const (
	ResourceInstance = "iam.instance"
	ResourceOrg      = "iam.org"
	ResourceUser     = "iam.user"
	ResourceProject  = "iam.project"
	ResourceApp      = "iam.app"
)

// grant is one (resource, action) a role confers.
type grant struct {
	resource string
	action   string
}

// roleGrants is the static role mapping. Roles absent from this table are
// project-defined role keys; the aggregator surfaces those as actions on
// iam.project instead.
var roleGrants = map[string][]grant{
	"IAM_OWNER": {
		{ResourceInstance, ActionManage},
		{ResourceOrg, ActionManage},
		{ResourceUser, ActionManage},
		{ResourceProject, ActionManage},
		{ResourceApp, ActionManage},
	},
	"IAM_OWNER_VIEWER": {
		{ResourceInstance, "read"},
		{ResourceOrg, "read"},
		{ResourceUser, "read"},
		{ResourceProject, "read"},
		{ResourceApp, "read"},
	},
	"ORG_OWNER": {
		{ResourceOrg, ActionManage},
		{ResourceUser, ActionManage},
		{ResourceProject, ActionManage},
		{ResourceApp, ActionManage},
	},
	"ORG_ADMIN": {
		{ResourceOrg, "read"},
		{ResourceUser, "read"},
		{ResourceProject, ActionManage},
		{ResourceApp, ActionManage},
	},
	"ORG_USER_MANAGER": {
		{ResourceOrg, "read"},
		{ResourceUser, ActionManage},
	},
	"PROJECT_OWNER": {
		{ResourceProject, ActionManage},
		{ResourceApp, ActionManage},
	},
	"PROJECT_USER": {
		{ResourceProject, "read"},
		{ResourceApp, "read"},
	},
	"PROJECT_GRANT_OWNER": {
		{ResourceProject, ActionManage},
	},
}

// expandRole adds the role's grants to the set under the given conditions.
// Unknown roles are treated as project role keys.
func expandRole(set *permissionSet, role string, conds []Condition) {
	grants, ok := roleGrants[role]
	if !ok {
		set.add(ResourceProject, role, conds)
		return
	}
	for _, g := range grants {
		set.add(g.resource, g.action, conds)
	}
}
