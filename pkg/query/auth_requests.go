package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// SAMLRequest is the projected state of one SP-initiated SAML request.
type SAMLRequest struct {
	ID            string
	InstanceID    string
	CreationDate  time.Time
	ChangeDate    time.Time
	Sequence      uint64
	State         domain.SAMLRequestState
	LoginClient   *string
	ApplicationID string
	ACSURL        string
	RelayState    *string
	RequestID     string
	Binding       *string
	Issuer        string
	Destination   *string
	SessionID     *string
	UserID        *string
	AuthTime      *time.Time
	AuthMethods   []string
	FailureReason *string
}

// SAMLSession is a projected issued SAML session.
type SAMLSession struct {
	ID             string
	InstanceID     string
	CreationDate   time.Time
	ChangeDate     time.Time
	Sequence       uint64
	State          domain.SAMLSessionState
	UserID         string
	SessionID      string
	EntityID       string
	SAMLResponseID *string
	ExpiresAt      *time.Time
}

// IDPIntent is the projected state of one external login flow.
type IDPIntent struct {
	ID             string
	InstanceID     string
	CreationDate   time.Time
	ChangeDate     time.Time
	Sequence       uint64
	State          domain.IDPIntentState
	IDPID          string
	IDPType        domain.IDPType
	SuccessURL     string
	FailureURL     string
	StateToken     string
	IDPUser        *domain.IDPUser
	IDPAccessToken *string
	IDPIDToken     *string
	UserID         *string
	FailureReason  *string
}

const samlRequestColumns = `id, instance_id, creation_date, change_date, sequence, state, login_client,
	application_id, acs_url, relay_state, request_id, binding, issuer, destination,
	session_id, user_id, auth_time, auth_methods, failure_reason`

func scanSAMLRequest(row pgx.Row) (*SAMLRequest, error) {
	r := new(SAMLRequest)
	err := row.Scan(&r.ID, &r.InstanceID, &r.CreationDate, &r.ChangeDate, &r.Sequence, &r.State,
		&r.LoginClient, &r.ApplicationID, &r.ACSURL, &r.RelayState, &r.RequestID, &r.Binding,
		&r.Issuer, &r.Destination, &r.SessionID, &r.UserID, &r.AuthTime, &r.AuthMethods, &r.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return r, nil
}

const samlSessionColumns = `id, instance_id, creation_date, change_date, sequence, state,
	user_id, session_id, entity_id, saml_response_id, expires_at`

func scanSAMLSession(row pgx.Row) (*SAMLSession, error) {
	s := new(SAMLSession)
	err := row.Scan(&s.ID, &s.InstanceID, &s.CreationDate, &s.ChangeDate, &s.Sequence, &s.State,
		&s.UserID, &s.SessionID, &s.EntityID, &s.SAMLResponseID, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return s, nil
}

const idpIntentColumns = `id, instance_id, creation_date, change_date, sequence, state, idp_id, idp_type,
	success_url, failure_url, state_token, idp_user, idp_access_token, idp_id_token, user_id, failure_reason`

func scanIDPIntent(row pgx.Row) (*IDPIntent, error) {
	i := new(IDPIntent)
	var idpUser []byte
	err := row.Scan(&i.ID, &i.InstanceID, &i.CreationDate, &i.ChangeDate, &i.Sequence, &i.State,
		&i.IDPID, &i.IDPType, &i.SuccessURL, &i.FailureURL, &i.StateToken,
		&idpUser, &i.IDPAccessToken, &i.IDPIDToken, &i.UserID, &i.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	if len(idpUser) > 0 {
		i.IDPUser = new(domain.IDPUser)
		if err := json.Unmarshal(idpUser, i.IDPUser); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
	}
	return i, nil
}

// AuthRequestQueries serves SAML request, SAML session and IDP intent
// lookups.
type AuthRequestQueries struct {
	pool *database.Pool
}

func NewAuthRequestQueries(pool *database.Pool) *AuthRequestQueries {
	return &AuthRequestQueries{pool: pool}
}

// GetSAMLRequestByID returns the request or nil.
func (q *AuthRequestQueries) GetSAMLRequestByID(ctx context.Context, instanceID, id string) (*SAMLRequest, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.saml_requests WHERE instance_id = $1 AND id = $2`, samlRequestColumns),
		instanceID, id)
	return scanSAMLRequest(row)
}

// GetSAMLSessionByID returns the session or nil.
func (q *AuthRequestQueries) GetSAMLSessionByID(ctx context.Context, instanceID, id string) (*SAMLSession, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.saml_sessions WHERE instance_id = $1 AND id = $2`, samlSessionColumns),
		instanceID, id)
	return scanSAMLSession(row)
}

// GetIDPIntentByID returns the intent or nil.
func (q *AuthRequestQueries) GetIDPIntentByID(ctx context.Context, instanceID, id string) (*IDPIntent, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.idp_intents WHERE instance_id = $1 AND id = $2`, idpIntentColumns),
		instanceID, id)
	return scanIDPIntent(row)
}

// GetIDPIntentByStateToken resolves the intent the callback handler is
// finishing. The token is single-purpose and unique per instance.
func (q *AuthRequestQueries) GetIDPIntentByStateToken(ctx context.Context, instanceID, stateToken string) (*IDPIntent, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.idp_intents WHERE instance_id = $1 AND state_token = $2`, idpIntentColumns),
		instanceID, stateToken)
	return scanIDPIntent(row)
}
