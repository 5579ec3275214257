package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
)

func TestAddOrganization(t *testing.T) {
	c, store := newCommands(t)
	ctx := context.Background()

	result, err := c.AddOrganization(ctx, testCtx(), "Acme")
	require.NoError(t, err)
	require.NotEmpty(t, result.OrgID)

	agg, err := store.Aggregate(ctx, "instance-1", domain.AggregateTypeOrg, result.OrgID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrgAddedType, agg.Events[0].EventType)
	assert.Equal(t, result.OrgID, agg.Events[0].ResourceOwner)

	// org names are unique per instance, case-insensitively
	_, err = c.AddOrganization(ctx, testCtx(), "ACME")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDomainVerificationFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	org, err := c.AddOrganization(ctx, testCtx(), "Acme")
	require.NoError(t, err)

	added, err := c.AddOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test", domain.DomainValidationTypeDNS)
	require.NoError(t, err)
	assert.Len(t, added.ValidationCode, 32)

	// primary requires verification first
	err = c.SetPrimaryOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test")
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, c.VerifyOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test"))
	require.NoError(t, c.SetPrimaryOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test"))

	// a verified domain is claimed instance-wide
	other, err := c.AddOrganization(ctx, testCtx(), "Globex")
	require.NoError(t, err)
	_, err = c.AddOrganizationDomain(ctx, testCtx(), other.OrgID, "acme.test", domain.DomainValidationTypeDNS)
	require.NoError(t, err)
	err = c.VerifyOrganizationDomain(ctx, testCtx(), other.OrgID, "acme.test")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddOrganizationDomainRejectsBadNames(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	org, err := c.AddOrganization(ctx, testCtx(), "Acme")
	require.NoError(t, err)

	_, err = c.AddOrganizationDomain(ctx, testCtx(), org.OrgID, "not a domain!", domain.DomainValidationTypeDNS)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRemoveOrganizationDomain(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	org, err := c.AddOrganization(ctx, testCtx(), "Acme")
	require.NoError(t, err)
	_, err = c.AddOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test", domain.DomainValidationTypeDNS)
	require.NoError(t, err)
	require.NoError(t, c.VerifyOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test"))
	require.NoError(t, c.SetPrimaryOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test"))

	// the primary domain cannot go away
	err = c.RemoveOrganizationDomain(ctx, testCtx(), org.OrgID, "acme.test")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.AddOrganizationDomain(ctx, testCtx(), org.OrgID, "acme2.test", domain.DomainValidationTypeDNS)
	require.NoError(t, err)
	require.NoError(t, c.VerifyOrganizationDomain(ctx, testCtx(), org.OrgID, "acme2.test"))
	require.NoError(t, c.RemoveOrganizationDomain(ctx, testCtx(), org.OrgID, "acme2.test"))

	// removal releases the instance-wide claim
	other, err := c.AddOrganization(ctx, testCtx(), "Globex")
	require.NoError(t, err)
	_, err = c.AddOrganizationDomain(ctx, testCtx(), other.OrgID, "acme2.test", domain.DomainValidationTypeDNS)
	require.NoError(t, err)
	assert.NoError(t, c.VerifyOrganizationDomain(ctx, testCtx(), other.OrgID, "acme2.test"))
}

func TestOrganizationMembers(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	org, err := c.AddOrganization(ctx, testCtx(), "Acme")
	require.NoError(t, err)

	require.NoError(t, c.AddOrganizationMember(ctx, testCtx(), org.OrgID, "user-1", []string{"ORG_OWNER"}))
	assert.ErrorIs(t, c.AddOrganizationMember(ctx, testCtx(), org.OrgID, "user-1", []string{"ORG_ADMIN"}), domain.ErrValidation)

	require.NoError(t, c.UpdateOrganizationMember(ctx, testCtx(), org.OrgID, "user-1", []string{"ORG_ADMIN"}))
	require.NoError(t, c.RemoveOrganizationMember(ctx, testCtx(), org.OrgID, "user-1"))
	assert.ErrorIs(t, c.UpdateOrganizationMember(ctx, testCtx(), org.OrgID, "user-1", []string{"ORG_ADMIN"}), domain.ErrNotFound)
}

func TestOrganizationLifecycle(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	org, err := c.AddOrganization(ctx, testCtx(), "Acme")
	require.NoError(t, err)

	require.NoError(t, c.DeactivateOrganization(ctx, testCtx(), org.OrgID))
	assert.ErrorIs(t, c.DeactivateOrganization(ctx, testCtx(), org.OrgID), domain.ErrValidation)
	require.NoError(t, c.ReactivateOrganization(ctx, testCtx(), org.OrgID))
	require.NoError(t, c.RemoveOrganization(ctx, testCtx(), org.OrgID))
	assert.ErrorIs(t, c.UpdateOrganization(ctx, testCtx(), org.OrgID, "Acme 2"), domain.ErrNotFound)

	// the name claim is released
	_, err = c.AddOrganization(ctx, testCtx(), "Acme")
	assert.NoError(t, err)
}
