package command

import (
	"context"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/validators"
)

type projectGrantState struct {
	grantedOrgID string
	roles        []string
	members      map[string][]string
}

// projectWriteModel covers the project aggregate: roles, members, grants and
// grant members all live on this stream.
type projectWriteModel struct {
	id            string
	resourceOwner string
	version       uint64

	state   domain.ProjectState
	name    string
	roles   map[string]struct{}
	members map[string][]string
	grants  map[string]*projectGrantState
}

func (c *Commands) projectWriteModelByID(ctx context.Context, instanceID, projectID string) (*projectWriteModel, error) {
	agg, err := c.es.Aggregate(ctx, instanceID, domain.AggregateTypeProject, projectID, 0)
	if err != nil {
		return nil, err
	}
	wm := &projectWriteModel{
		id:      projectID,
		roles:   make(map[string]struct{}),
		members: make(map[string][]string),
		grants:  make(map[string]*projectGrantState),
	}
	for _, e := range agg.Events {
		if err := wm.reduce(e); err != nil {
			return nil, err
		}
	}
	wm.version = agg.Version
	return wm, nil
}

func (wm *projectWriteModel) reduce(e *domain.Event) error {
	switch e.EventType {
	case domain.ProjectAddedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectAddedPayload](e)
		if err != nil {
			return err
		}
		wm.state = domain.ProjectStateActive
		wm.name = payload.Name
		wm.resourceOwner = e.ResourceOwner
	case domain.ProjectChangedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectChangedPayload](e)
		if err != nil {
			return err
		}
		if payload.Name != nil {
			wm.name = *payload.Name
		}
	case domain.ProjectDeactivatedType:
		wm.state = domain.ProjectStateInactive
	case domain.ProjectReactivatedType:
		wm.state = domain.ProjectStateActive
	case domain.ProjectRemovedType:
		wm.state = domain.ProjectStateRemoved
	case domain.ProjectRoleAddedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectRoleAddedPayload](e)
		if err != nil {
			return err
		}
		wm.roles[payload.Key] = struct{}{}
	case domain.ProjectRoleRemovedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectRoleRemovedPayload](e)
		if err != nil {
			return err
		}
		delete(wm.roles, payload.Key)
	case domain.ProjectMemberAddedType, domain.ProjectMemberChangedType:
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return err
		}
		wm.members[payload.UserID] = payload.Roles
	case domain.ProjectMemberRemovedType:
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return err
		}
		delete(wm.members, payload.UserID)
	case domain.ProjectGrantAddedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectGrantAddedPayload](e)
		if err != nil {
			return err
		}
		wm.grants[payload.GrantID] = &projectGrantState{
			grantedOrgID: payload.GrantedOrgID,
			roles:        payload.GrantedRoles,
			members:      make(map[string][]string),
		}
	case domain.ProjectGrantChangedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectGrantChangedPayload](e)
		if err != nil {
			return err
		}
		if g, ok := wm.grants[payload.GrantID]; ok {
			g.roles = payload.GrantedRoles
		}
	case domain.ProjectGrantRemovedType:
		payload, err := domain.UnmarshalPayload[domain.ProjectGrantRemovedPayload](e)
		if err != nil {
			return err
		}
		delete(wm.grants, payload.GrantID)
	case domain.ProjectGrantMemberAddedType, domain.ProjectGrantMemberChangedType:
		payload, err := domain.UnmarshalPayload[domain.GrantMemberPayload](e)
		if err != nil {
			return err
		}
		if g, ok := wm.grants[payload.GrantID]; ok {
			g.members[payload.UserID] = payload.Roles
		}
	case domain.ProjectGrantMemberRemovedType:
		payload, err := domain.UnmarshalPayload[domain.GrantMemberPayload](e)
		if err != nil {
			return err
		}
		if g, ok := wm.grants[payload.GrantID]; ok {
			delete(g.members, payload.UserID)
		}
	}
	return nil
}

func (wm *projectWriteModel) exists() bool { return wm.state.Exists() }

func (c *Commands) projectCommand(cctx Context, wm *projectWriteModel, eventType domain.EventType, payload any) *domain.Command {
	return &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeProject,
		AggregateID:   wm.id,
		ResourceOwner: wm.resourceOwner,
		EventType:     eventType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload:       payload,
	}
}

// AddProject is the input of project creation.
type AddProject struct {
	Name                   string
	ProjectRoleAssertion   bool
	ProjectRoleCheck       bool
	HasProjectCheck        bool
	PrivateLabelingSetting domain.PrivateLabelSetting
}

// ProjectResult carries the generated project id.
type ProjectResult struct {
	ProjectID string
}

func (c *Commands) AddProject(ctx context.Context, cctx Context, req AddProject) (*ProjectResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if cctx.OrgID == "" {
		return nil, domain.NewValidationError("orgID", "organization id is required")
	}
	if err := validators.ValidateStringEmpty(req.Name, "name").Err(); err != nil {
		return nil, err
	}
	projectID := c.newID()
	_, err := c.push(ctx, 0, &domain.Command{
		InstanceID:    cctx.InstanceID,
		AggregateType: domain.AggregateTypeProject,
		AggregateID:   projectID,
		ResourceOwner: cctx.OrgID,
		EventType:     domain.ProjectAddedType,
		Editor:        cctx.editor(),
		Revision:      1,
		Payload: domain.ProjectAddedPayload{
			Name:                   req.Name,
			ProjectRoleAssertion:   req.ProjectRoleAssertion,
			ProjectRoleCheck:       req.ProjectRoleCheck,
			HasProjectCheck:        req.HasProjectCheck,
			PrivateLabelingSetting: req.PrivateLabelingSetting,
		},
	})
	if err != nil {
		return nil, err
	}
	return &ProjectResult{ProjectID: projectID}, nil
}

// UpdateProject changes project settings; nil fields stay untouched.
type UpdateProject struct {
	Name                   *string
	ProjectRoleAssertion   *bool
	ProjectRoleCheck       *bool
	HasProjectCheck        *bool
	PrivateLabelingSetting *domain.PrivateLabelSetting
}

func (u UpdateProject) isEmpty() bool {
	return u.Name == nil && u.ProjectRoleAssertion == nil && u.ProjectRoleCheck == nil &&
		u.HasProjectCheck == nil && u.PrivateLabelingSetting == nil
}

func (c *Commands) UpdateProject(ctx context.Context, cctx Context, projectID string, req UpdateProject) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if req.isEmpty() {
		return domain.NewValidationError("project", "at least one field must change")
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectChangedType,
		domain.ProjectChangedPayload{
			Name:                   req.Name,
			ProjectRoleAssertion:   req.ProjectRoleAssertion,
			ProjectRoleCheck:       req.ProjectRoleCheck,
			HasProjectCheck:        req.HasProjectCheck,
			PrivateLabelingSetting: req.PrivateLabelingSetting,
		},
	))
	return err
}

func (c *Commands) DeactivateProject(ctx context.Context, cctx Context, projectID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if wm.state != domain.ProjectStateActive {
		return domain.NewValidationError("state", "only active projects can be deactivated")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectDeactivatedType, nil))
	return err
}

func (c *Commands) ReactivateProject(ctx context.Context, cctx Context, projectID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if wm.state != domain.ProjectStateInactive {
		return domain.NewValidationError("state", "only inactive projects can be reactivated")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectReactivatedType, nil))
	return err
}

func (c *Commands) RemoveProject(ctx context.Context, cctx Context, projectID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectRemovedType, nil))
	return err
}

func (c *Commands) AddProjectRole(ctx context.Context, cctx Context, projectID, key, displayName, group string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if err := validators.ValidateStringEmpty(key, "role_key").Err(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.roles[key]; ok {
		return domain.NewValidationError("role_key", "role key already exists")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectRoleAddedType,
		domain.ProjectRoleAddedPayload{Key: key, DisplayName: displayName, Group: group},
	))
	return err
}

func (c *Commands) RemoveProjectRole(ctx context.Context, cctx Context, projectID, key string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.roles[key]; !ok {
		return domain.NewNotFoundError("project role")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectRoleRemovedType,
		domain.ProjectRoleRemovedPayload{Key: key},
	))
	return err
}

func (c *Commands) AddProjectMember(ctx context.Context, cctx Context, projectID, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if userID == "" {
		return domain.NewValidationError("userID", "user id is required")
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.members[userID]; ok {
		return domain.NewValidationError("userID", "user is already a member")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectMemberAddedType,
		domain.MemberPayload{UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) UpdateProjectMember(ctx context.Context, cctx Context, projectID, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.members[userID]; !ok {
		return domain.NewNotFoundError("project member")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectMemberChangedType,
		domain.MemberPayload{UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) RemoveProjectMember(ctx context.Context, cctx Context, projectID, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.members[userID]; !ok {
		return domain.NewNotFoundError("project member")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectMemberRemovedType,
		domain.MemberPayload{UserID: userID},
	))
	return err
}

// ProjectGrantResult carries the generated grant id.
type ProjectGrantResult struct {
	GrantID string
}

// AddProjectGrant shares a project with another org, restricted to roles.
func (c *Commands) AddProjectGrant(ctx context.Context, cctx Context, projectID, grantedOrgID string, grantedRoles []string) (*ProjectGrantResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	if grantedOrgID == "" {
		return nil, domain.NewValidationError("grantedOrgID", "granted org id is required")
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return nil, err
	}
	if !wm.exists() {
		return nil, domain.NewNotFoundError("project")
	}
	if grantedOrgID == wm.resourceOwner {
		return nil, domain.NewValidationError("grantedOrgID", "cannot grant a project to its own organization")
	}
	for _, g := range wm.grants {
		if g.grantedOrgID == grantedOrgID {
			return nil, domain.NewValidationError("grantedOrgID", "organization already has a grant on this project")
		}
	}
	for _, role := range grantedRoles {
		if _, ok := wm.roles[role]; !ok {
			return nil, domain.NewValidationError("grantedRoles", "role "+role+" does not exist on the project")
		}
	}
	grantID := c.newID()
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectGrantAddedType,
		domain.ProjectGrantAddedPayload{
			GrantID:      grantID,
			GrantedOrgID: grantedOrgID,
			GrantedRoles: grantedRoles,
		},
	))
	if err != nil {
		return nil, err
	}
	return &ProjectGrantResult{GrantID: grantID}, nil
}

func (c *Commands) ChangeProjectGrant(ctx context.Context, cctx Context, projectID, grantID string, grantedRoles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.grants[grantID]; !ok {
		return domain.NewNotFoundError("project grant")
	}
	for _, role := range grantedRoles {
		if _, ok := wm.roles[role]; !ok {
			return domain.NewValidationError("grantedRoles", "role "+role+" does not exist on the project")
		}
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectGrantChangedType,
		domain.ProjectGrantChangedPayload{GrantID: grantID, GrantedRoles: grantedRoles},
	))
	return err
}

func (c *Commands) RemoveProjectGrant(ctx context.Context, cctx Context, projectID, grantID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	if _, ok := wm.grants[grantID]; !ok {
		return domain.NewNotFoundError("project grant")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectGrantRemovedType,
		domain.ProjectGrantRemovedPayload{GrantID: grantID},
	))
	return err
}

func (c *Commands) AddProjectGrantMember(ctx context.Context, cctx Context, projectID, grantID, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if userID == "" {
		return domain.NewValidationError("userID", "user id is required")
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	g, ok := wm.grants[grantID]
	if !ok {
		return domain.NewNotFoundError("project grant")
	}
	if _, ok := g.members[userID]; ok {
		return domain.NewValidationError("userID", "user is already a grant member")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectGrantMemberAddedType,
		domain.GrantMemberPayload{GrantID: grantID, UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) UpdateProjectGrantMember(ctx context.Context, cctx Context, projectID, grantID, userID string, roles []string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	if len(roles) == 0 {
		return domain.NewValidationError("roles", "at least one role is required")
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	g, ok := wm.grants[grantID]
	if !ok {
		return domain.NewNotFoundError("project grant")
	}
	if _, ok := g.members[userID]; !ok {
		return domain.NewNotFoundError("project grant member")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectGrantMemberChangedType,
		domain.GrantMemberPayload{GrantID: grantID, UserID: userID, Roles: roles},
	))
	return err
}

func (c *Commands) RemoveProjectGrantMember(ctx context.Context, cctx Context, projectID, grantID, userID string) error {
	if err := cctx.validate(); err != nil {
		return err
	}
	wm, err := c.projectWriteModelByID(ctx, cctx.InstanceID, projectID)
	if err != nil {
		return err
	}
	if !wm.exists() {
		return domain.NewNotFoundError("project")
	}
	g, ok := wm.grants[grantID]
	if !ok {
		return domain.NewNotFoundError("project grant")
	}
	if _, ok := g.members[userID]; !ok {
		return domain.NewNotFoundError("project grant member")
	}
	_, err = c.push(ctx, wm.version, c.projectCommand(cctx, wm, domain.ProjectGrantMemberRemovedType,
		domain.GrantMemberPayload{GrantID: grantID, UserID: userID},
	))
	return err
}
