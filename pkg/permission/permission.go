// Package permission aggregates a user's effective permissions from
// memberships, user grants and project grants, and answers permission checks
// against them.
package permission

import (
	"sort"
	"strings"
)

// ActionManage subsumes every other action on the same resource.
const ActionManage = "manage"

// Condition narrows a permission to one scope, e.g. org=<id>.
type Condition struct {
	Key   string
	Value string
}

func (c Condition) String() string { return c.Key + "=" + c.Value }

// Permission is one effective (resource, action) with the scopes it applies
// to. An empty condition list means unconditional.
type Permission struct {
	Resource   string
	Action     string
	Conditions []Condition
}

func (p Permission) hasCondition(c Condition) bool {
	for _, have := range p.Conditions {
		if have == c {
			return true
		}
	}
	return false
}

// addConditions unions new conditions into the permission, keeping the list
// deduplicated and sorted for stable output.
func (p *Permission) addConditions(conds []Condition) {
	for _, c := range conds {
		if !p.hasCondition(c) {
			p.Conditions = append(p.Conditions, c)
		}
	}
	sort.Slice(p.Conditions, func(i, j int) bool {
		return p.Conditions[i].String() < p.Conditions[j].String()
	})
}

// Requirement is one permission a caller must hold.
type Requirement struct {
	Resource   string
	Action     string
	Conditions []Condition
}

// Matches reports whether the permission satisfies the requirement: same
// resource, same action (or the permission holds manage), and every required
// condition present.
func (p Permission) Matches(r Requirement) bool {
	if p.Resource != r.Resource {
		return false
	}
	if p.Action != r.Action && p.Action != ActionManage {
		return false
	}
	for _, c := range r.Conditions {
		if !p.hasCondition(c) {
			return false
		}
	}
	return true
}

// CheckResult is the outcome of a permission check.
type CheckResult struct {
	HasPermission      bool
	MatchedPermissions []Permission
	Reason             string
}

// permissionSet deduplicates by (resource, action), unioning conditions.
type permissionSet struct {
	byKey map[string]*Permission
}

func newPermissionSet() *permissionSet {
	return &permissionSet{byKey: make(map[string]*Permission)}
}

func (s *permissionSet) add(resource, action string, conds []Condition) {
	key := resource + "\x00" + action
	p, ok := s.byKey[key]
	if !ok {
		p = &Permission{Resource: resource, Action: action}
		s.byKey[key] = p
	}
	p.addConditions(conds)
}

func (s *permissionSet) list() []Permission {
	out := make([]Permission, 0, len(s.byKey))
	for _, p := range s.byKey {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return strings.Compare(out[i].Action, out[j].Action) < 0
	})
	return out
}
