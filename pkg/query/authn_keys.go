package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// AuthNKey is a public key registered for machine user authentication.
type AuthNKey struct {
	KeyID          string
	InstanceID     string
	ResourceOwner  string
	UserID         string
	CreationDate   time.Time
	ChangeDate     time.Time
	Sequence       uint64
	Type           string
	ExpirationDate time.Time
	PublicKey      []byte
}

const authNKeyColumns = `key_id, instance_id, resource_owner, user_id, creation_date, change_date, sequence,
	key_type, expiration_date, public_key`

func scanAuthNKey(row pgx.Row) (*AuthNKey, error) {
	k := new(AuthNKey)
	err := row.Scan(&k.KeyID, &k.InstanceID, &k.ResourceOwner, &k.UserID, &k.CreationDate,
		&k.ChangeDate, &k.Sequence, &k.Type, &k.ExpirationDate, &k.PublicKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return k, nil
}

// AuthNKeyQueries serves machine key lookups over the authn_keys projection.
type AuthNKeyQueries struct {
	pool *database.Pool
}

func NewAuthNKeyQueries(pool *database.Pool) *AuthNKeyQueries {
	return &AuthNKeyQueries{pool: pool}
}

// GetAuthNKeyByID returns the key or nil.
func (q *AuthNKeyQueries) GetAuthNKeyByID(ctx context.Context, instanceID, keyID string) (*AuthNKey, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.authn_keys WHERE instance_id = $1 AND key_id = $2`, authNKeyColumns),
		instanceID, keyID)
	return scanAuthNKey(row)
}

// GetActiveAuthNKey returns the key only when it has not expired, the form
// JWT-profile verification uses.
func (q *AuthNKeyQueries) GetActiveAuthNKey(ctx context.Context, instanceID, keyID string, now time.Time) (*AuthNKey, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.authn_keys
		 WHERE instance_id = $1 AND key_id = $2 AND expiration_date > $3`, authNKeyColumns),
		instanceID, keyID, now)
	return scanAuthNKey(row)
}

// ListAuthNKeysForUser lists the keys of one machine user.
func (q *AuthNKeyQueries) ListAuthNKeysForUser(ctx context.Context, instanceID, userID string) ([]*AuthNKey, error) {
	rows, err := q.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.authn_keys
		 WHERE instance_id = $1 AND user_id = $2 ORDER BY creation_date`, authNKeyColumns),
		instanceID, userID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var keys []*AuthNKey
	for rows.Next() {
		k, err := scanAuthNKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return keys, nil
}
