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

// User is the projected user read model. Human and machine users share the
// shape; machine users leave the profile fields empty.
type User struct {
	ID                 string
	InstanceID         string
	ResourceOwner      string
	CreationDate       time.Time
	ChangeDate         time.Time
	Sequence           uint64
	State              domain.UserState
	Type               string
	Username           string
	FirstName          *string
	LastName           *string
	DisplayName        *string
	PreferredLanguage  *string
	Gender             *domain.Gender
	Email              *string
	EmailVerified      bool
	Phone              *string
	PasswordHash       *string
	OTPSecret          *string
	OTPVerified        bool
	MachineName        *string
	MachineDescription *string
}

const userColumns = `id, instance_id, resource_owner, creation_date, change_date, sequence, state, type, username,
	first_name, last_name, display_name, preferred_language, gender, email, email_verified, phone,
	password_hash, otp_secret, otp_verified, machine_name, machine_description`

func scanUser(row pgx.Row) (*User, error) {
	u := new(User)
	err := row.Scan(
		&u.ID, &u.InstanceID, &u.ResourceOwner, &u.CreationDate, &u.ChangeDate, &u.Sequence,
		&u.State, &u.Type, &u.Username,
		&u.FirstName, &u.LastName, &u.DisplayName, &u.PreferredLanguage, &u.Gender,
		&u.Email, &u.EmailVerified, &u.Phone,
		&u.PasswordHash, &u.OTPSecret, &u.OTPVerified, &u.MachineName, &u.MachineDescription,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return u, nil
}

// UserQueries serves user lookups over the users projection.
type UserQueries struct {
	pool *database.Pool
}

func NewUserQueries(pool *database.Pool) *UserQueries {
	return &UserQueries{pool: pool}
}

// GetUserByID returns the user or nil. Tombstoned users count as absent.
func (q *UserQueries) GetUserByID(ctx context.Context, instanceID, id string) (*User, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.users WHERE instance_id = $1 AND id = $2 AND state <> $3`, userColumns),
		instanceID, id, domain.UserStateRemoved)
	return scanUser(row)
}

// GetUserByUsername resolves the instance-unique username.
func (q *UserQueries) GetUserByUsername(ctx context.Context, instanceID, username string) (*User, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.users WHERE instance_id = $1 AND username = $2 AND state <> $3`, userColumns),
		instanceID, username, domain.UserStateRemoved)
	return scanUser(row)
}

// GetUserByEmail returns the first active user carrying the email.
func (q *UserQueries) GetUserByEmail(ctx context.Context, instanceID, email string) (*User, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.users WHERE instance_id = $1 AND email = $2 AND state <> $3 ORDER BY creation_date LIMIT 1`, userColumns),
		instanceID, email, domain.UserStateRemoved)
	return scanUser(row)
}

var userSortColumns = map[string]bool{
	"username":      true,
	"email":         true,
	"creation_date": true,
	"change_date":   true,
}

// SearchUsers returns users matching the filter, instance-scoped and without
// tombstones. A nil filter matches everything.
func (q *UserQueries) SearchUsers(ctx context.Context, instanceID string, filter Filter, page Pagination, sort Sort) ([]*User, error) {
	sql, args := searchSQL(searchSpec{
		columns:      userColumns,
		table:        "projections.users",
		instanceID:   instanceID,
		tombstone:    tombstoneClause("state", domain.UserStateRemoved),
		filter:       filter,
		page:         page,
		sort:         sort,
		sortColumns:  userSortColumns,
		defaultOrder: "creation_date",
	})
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return users, nil
}
