// Package command implements the write side: every domain operation validates
// its input, loads the aggregate it touches, derives the events for the state
// transition and appends them with an optimistic concurrency check. Commands
// never read projections; callers get back plain results (ids, validation
// codes, client secrets), never raw events.
package command

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/plaenen/iamcore/pkg/auth"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/multitenancy"
)

// Unique constraint index names. Values are scoped per instance by the store.
const (
	uniqueUsernames = "usernames"
	uniqueOrgNames  = "org_names"
	uniqueOrgDomain = "org_domains"
)

// Context identifies the caller of a command.
type Context struct {
	InstanceID string
	OrgID      string
	UserID     string
}

func (c Context) validate() error {
	if c.InstanceID == "" {
		return domain.NewValidationError("instanceID", "instance id is required")
	}
	return nil
}

// editor is recorded on every event. System-initiated commands have no user.
func (c Context) editor() string {
	if c.UserID == "" {
		return "system"
	}
	return c.UserID
}

// CallerContext derives the command context from the caller carried in ctx
// by transport middleware.
func CallerContext(ctx context.Context) (Context, error) {
	caller, err := multitenancy.GetCaller(ctx)
	if err != nil {
		return Context{}, domain.NewValidationError("caller", "no caller in context")
	}
	return Context{
		InstanceID: caller.InstanceID,
		OrgID:      caller.OrgID,
		UserID:     caller.UserID,
	}, nil
}

// Commands is the write-side API surface.
type Commands struct {
	es     eventstore.Eventstore
	policy auth.Policy
	newID  func() string
}

// Option configures Commands.
type Option func(*Commands)

// WithPasswordPolicy overrides the password policy applied on set and change.
func WithPasswordPolicy(policy auth.Policy) Option {
	return func(c *Commands) { c.policy = policy }
}

// WithIDGenerator overrides id generation, pinned in tests.
func WithIDGenerator(gen func() string) Option {
	return func(c *Commands) { c.newID = gen }
}

func New(es eventstore.Eventstore, opts ...Option) *Commands {
	c := &Commands{
		es:     es,
		policy: auth.DefaultPolicy(),
		newID:  idgen.MustGenerateSortableID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// push appends the batch against the loaded version.
func (c *Commands) push(ctx context.Context, expectedVersion uint64, cmds ...*domain.Command) ([]*domain.Event, error) {
	return c.es.PushWithConcurrencyCheck(ctx, cmds, expectedVersion)
}

// normalized lowercases after NFKC normalization so visually equal usernames
// and domains collide on the unique index.
func normalized(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// usernameClaimValue scopes usernames to the owning org.
func usernameClaimValue(orgID, username string) string {
	return orgID + ":" + normalized(username)
}
