package query

import "github.com/plaenen/iamcore/pkg/database"

// Queries bundles every query module over one pool.
type Queries struct {
	Users        *UserQueries
	Orgs         *OrgQueries
	Projects     *ProjectQueries
	Apps         *AppQueries
	Members      *MemberRolesQueries
	Grants       *GrantQueries
	SMTP         *SMTPQueries
	AuthNKeys    *AuthNKeyQueries
	AuthRequests *AuthRequestQueries
}

func New(pool *database.Pool) *Queries {
	return &Queries{
		Users:        NewUserQueries(pool),
		Orgs:         NewOrgQueries(pool),
		Projects:     NewProjectQueries(pool),
		Apps:         NewAppQueries(pool),
		Members:      NewMemberRolesQueries(pool),
		Grants:       NewGrantQueries(pool),
		SMTP:         NewSMTPQueries(pool),
		AuthNKeys:    NewAuthNKeyQueries(pool),
		AuthRequests: NewAuthRequestQueries(pool),
	}
}
