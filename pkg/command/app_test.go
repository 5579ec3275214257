package command

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/crypto"
	"github.com/plaenen/iamcore/pkg/domain"
)

func TestAddOIDCApp(t *testing.T) {
	c, store := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	result, err := c.AddOIDCApp(ctx, testCtx(), AddOIDCApp{
		ProjectID:      projectID,
		Name:           "Web Login",
		RedirectURIs:   []string{"https://app.example.com/callback"},
		ResponseTypes:  []string{"code"},
		GrantTypes:     []string{"authorization_code"},
		AuthMethodType: domain.OIDCAuthMethodTypeBasic,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.ClientID, "@"+projectID))
	require.NotEmpty(t, result.ClientSecret)

	agg, err := store.Aggregate(ctx, "instance-1", domain.AggregateTypeApplication, result.AppID, 0)
	require.NoError(t, err)
	require.Len(t, agg.Events, 2)
	assert.Equal(t, domain.ApplicationAddedType, agg.Events[0].EventType)
	assert.Equal(t, domain.ApplicationOIDCConfigAddedType, agg.Events[1].EventType)

	// only the hash is persisted
	cfg, err := domain.UnmarshalPayload[domain.OIDCConfigPayload](agg.Events[1])
	require.NoError(t, err)
	assert.NotEqual(t, result.ClientSecret, cfg.ClientSecretHash)
	assert.True(t, crypto.VerifyClientSecret(cfg.ClientSecretHash, result.ClientSecret))
}

func TestAddOIDCAppPublicClientHasNoSecret(t *testing.T) {
	c, _ := newCommands(t)
	projectID := addTestProject(t, c)

	result, err := c.AddOIDCApp(context.Background(), testCtx(), AddOIDCApp{
		ProjectID:      projectID,
		Name:           "SPA",
		RedirectURIs:   []string{"https://spa.example.com/cb"},
		AuthMethodType: domain.OIDCAuthMethodTypeNone,
	})
	require.NoError(t, err)
	assert.Empty(t, result.ClientSecret)
}

func TestAddOIDCAppValidation(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	_, err := c.AddOIDCApp(ctx, testCtx(), AddOIDCApp{ProjectID: projectID, Name: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation, "redirect uris required")

	_, err = c.AddOIDCApp(ctx, testCtx(), AddOIDCApp{
		ProjectID: "ghost", Name: "x", RedirectURIs: []string{"https://a.example.com"},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddAPIApp(t *testing.T) {
	c, _ := newCommands(t)
	projectID := addTestProject(t, c)

	result, err := c.AddAPIApp(context.Background(), testCtx(), AddAPIApp{
		ProjectID:      projectID,
		Name:           "Backend",
		AuthMethodType: domain.OIDCAuthMethodTypeBasic,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ClientSecret)
}

func TestAddSAMLApp(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	_, err := c.AddSAMLApp(ctx, testCtx(), AddSAMLApp{
		ProjectID: projectID, Name: "SP", EntityID: "https://sp.example.com/metadata",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "metadata required")

	result, err := c.AddSAMLApp(ctx, testCtx(), AddSAMLApp{
		ProjectID:   projectID,
		Name:        "SP",
		EntityID:    "https://sp.example.com/metadata",
		MetadataURL: "https://sp.example.com/metadata",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AppID)
}

func TestUpdateAPIAppConfig(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	app, err := c.AddAPIApp(ctx, testCtx(), AddAPIApp{
		ProjectID: projectID, Name: "Backend", AuthMethodType: domain.OIDCAuthMethodTypeBasic,
	})
	require.NoError(t, err)

	require.NoError(t, c.UpdateAPIAppConfig(ctx, testCtx(), app.AppID, domain.APIConfigPayload{
		AuthMethodType: domain.OIDCAuthMethodTypePrivateKeyJWT,
	}))

	oidc, err := c.AddOIDCApp(ctx, testCtx(), AddOIDCApp{
		ProjectID:      projectID,
		Name:           "Web",
		RedirectURIs:   []string{"https://app.example.com/callback"},
		AuthMethodType: domain.OIDCAuthMethodTypeBasic,
	})
	require.NoError(t, err)
	err = c.UpdateAPIAppConfig(ctx, testCtx(), oidc.AppID, domain.APIConfigPayload{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegenerateAppSecret(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	app, err := c.AddAPIApp(ctx, testCtx(), AddAPIApp{
		ProjectID: projectID, Name: "Backend", AuthMethodType: domain.OIDCAuthMethodTypeBasic,
	})
	require.NoError(t, err)

	regen, err := c.RegenerateAppSecret(ctx, testCtx(), app.AppID)
	require.NoError(t, err)
	assert.NotEqual(t, app.ClientSecret, regen.ClientSecret)

	saml, err := c.AddSAMLApp(ctx, testCtx(), AddSAMLApp{
		ProjectID: projectID, Name: "SP", EntityID: "e", MetadataURL: "https://sp.example.com/md",
	})
	require.NoError(t, err)
	_, err = c.RegenerateAppSecret(ctx, testCtx(), saml.AppID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAppLifecycle(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()
	projectID := addTestProject(t, c)

	app, err := c.AddAPIApp(ctx, testCtx(), AddAPIApp{
		ProjectID: projectID, Name: "Backend", AuthMethodType: domain.OIDCAuthMethodTypeBasic,
	})
	require.NoError(t, err)

	require.NoError(t, c.UpdateApp(ctx, testCtx(), app.AppID, "Backend v2"))
	require.NoError(t, c.DeactivateApp(ctx, testCtx(), app.AppID))
	assert.ErrorIs(t, c.DeactivateApp(ctx, testCtx(), app.AppID), domain.ErrValidation)
	require.NoError(t, c.ReactivateApp(ctx, testCtx(), app.AppID))
	require.NoError(t, c.RemoveApp(ctx, testCtx(), app.AppID))
	assert.ErrorIs(t, c.UpdateApp(ctx, testCtx(), app.AppID, "x"), domain.ErrNotFound)
}
