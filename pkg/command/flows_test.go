package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/multitenancy"
)

func TestCallerContext(t *testing.T) {
	ctx := multitenancy.WithCaller(context.Background(), multitenancy.Caller{
		InstanceID: "instance-1",
		OrgID:      "org-1",
		UserID:     "user-1",
	})

	cctx, err := CallerContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, Context{InstanceID: "instance-1", OrgID: "org-1", UserID: "user-1"}, cctx)

	_, err = CallerContext(context.Background())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIDPIntentFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	intent, err := c.StartIDPIntent(ctx, testCtx(), StartIDPIntent{
		IDPID:      "idp-1",
		IDPType:    domain.IDPTypeOIDC,
		SuccessURL: "https://login.example.com/success",
		FailureURL: "https://login.example.com/failure",
	})
	require.NoError(t, err)
	require.NotEmpty(t, intent.IntentID)
	require.NotEmpty(t, intent.StateToken)

	err = c.HandleOIDCCallback(ctx, testCtx(), intent.IntentID, domain.IDPUser{
		ID:    "ext-123",
		Email: "gigi@idp.example.com",
	}, "access-token", "id-token")
	require.NoError(t, err)

	// settled intents reject further callbacks
	err = c.HandleOIDCCallback(ctx, testCtx(), intent.IntentID, domain.IDPUser{ID: "ext-123"}, "a", "i")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, c.FailIDPIntent(ctx, testCtx(), intent.IntentID, "late"), domain.ErrValidation)
}

func TestIDPIntentFailure(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	intent, err := c.StartIDPIntent(ctx, testCtx(), StartIDPIntent{
		IDPID:      "idp-1",
		IDPType:    domain.IDPTypeOAuth,
		SuccessURL: "https://login.example.com/success",
		FailureURL: "https://login.example.com/failure",
	})
	require.NoError(t, err)

	require.NoError(t, c.FailIDPIntent(ctx, testCtx(), intent.IntentID, "user denied consent"))

	err = c.HandleOAuthCallback(ctx, testCtx(), intent.IntentID, domain.IDPUser{ID: "x"}, "t")
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.ErrorIs(t, c.FailIDPIntent(ctx, testCtx(), "ghost", "r"), domain.ErrNotFound)
}

func TestSAMLRequestFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	request, err := c.AddSAMLRequest(ctx, testCtx(), AddSAMLRequest{
		ApplicationID: "app-1",
		ACSURL:        "https://sp.example.com/acs",
		RequestID:     "_req-1",
		Issuer:        "https://sp.example.com",
	})
	require.NoError(t, err)

	// the response needs a linked session first
	_, err = c.HandleSAMLResponse(ctx, testCtx(), request.ID, "https://idp.example.com", "_resp-1", time.Time{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	authTime := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, c.LinkSessionToSAMLRequest(ctx, testCtx(), request.ID, "session-1", "user-1", authTime, []string{"pwd"}))

	session, err := c.HandleSAMLResponse(ctx, testCtx(), request.ID, "https://idp.example.com", "_resp-1", authTime.Add(8*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, session.SessionID)

	require.NoError(t, c.TerminateSAMLSession(ctx, testCtx(), session.SessionID))
	assert.ErrorIs(t, c.TerminateSAMLSession(ctx, testCtx(), session.SessionID), domain.ErrValidation)
}

func TestFailSAMLRequest(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	request, err := c.AddSAMLRequest(ctx, testCtx(), AddSAMLRequest{
		ApplicationID: "app-1",
		ACSURL:        "https://sp.example.com/acs",
		Issuer:        "https://sp.example.com",
	})
	require.NoError(t, err)

	require.NoError(t, c.FailSAMLRequest(ctx, testCtx(), request.ID, "auth aborted"))
	assert.ErrorIs(t, c.FailSAMLRequest(ctx, testCtx(), request.ID, "again"), domain.ErrValidation)
}

func TestInstanceMembers(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	require.NoError(t, c.AddInstanceMember(ctx, testCtx(), "user-1", []string{"IAM_OWNER"}))
	assert.ErrorIs(t, c.AddInstanceMember(ctx, testCtx(), "user-1", []string{"IAM_OWNER"}), domain.ErrValidation)
	require.NoError(t, c.UpdateInstanceMember(ctx, testCtx(), "user-1", []string{"IAM_OWNER_VIEWER"}))
	require.NoError(t, c.RemoveInstanceMember(ctx, testCtx(), "user-1"))
	assert.ErrorIs(t, c.RemoveInstanceMember(ctx, testCtx(), "user-1"), domain.ErrNotFound)
}

func TestSMTPConfigFlow(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	first, err := c.AddSMTPConfig(ctx, testCtx(), AddSMTPConfig{
		SenderAddress: "noreply@example.com",
		Host:          "smtp.example.com:587",
		TLS:           true,
	})
	require.NoError(t, err)
	second, err := c.AddSMTPConfig(ctx, testCtx(), AddSMTPConfig{
		SenderAddress: "alerts@example.com",
		Host:          "smtp2.example.com:587",
	})
	require.NoError(t, err)

	require.NoError(t, c.ActivateSMTPConfig(ctx, testCtx(), first.ConfigID))
	assert.ErrorIs(t, c.ActivateSMTPConfig(ctx, testCtx(), first.ConfigID), domain.ErrValidation)

	// activating another config implicitly demotes the first
	require.NoError(t, c.ActivateSMTPConfig(ctx, testCtx(), second.ConfigID))
	require.NoError(t, c.ActivateSMTPConfig(ctx, testCtx(), first.ConfigID))

	require.NoError(t, c.DeactivateSMTPConfig(ctx, testCtx(), first.ConfigID))
	require.NoError(t, c.RemoveSMTPConfig(ctx, testCtx(), first.ConfigID))
	assert.ErrorIs(t, c.ActivateSMTPConfig(ctx, testCtx(), first.ConfigID), domain.ErrNotFound)
}

func TestSMTPConfigValidation(t *testing.T) {
	c, _ := newCommands(t)
	ctx := context.Background()

	_, err := c.AddSMTPConfig(ctx, testCtx(), AddSMTPConfig{Host: "smtp.example.com:587"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.AddSMTPConfig(ctx, testCtx(), AddSMTPConfig{SenderAddress: "a@example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
