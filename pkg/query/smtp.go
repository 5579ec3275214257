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

// SMTPConfig is the projected SMTP configuration of an instance.
type SMTPConfig struct {
	ID             string
	InstanceID     string
	CreationDate   time.Time
	ChangeDate     time.Time
	Sequence       uint64
	State          domain.SMTPConfigState
	Description    *string
	SenderAddress  string
	SenderName     *string
	ReplyToAddress *string
	Host           string
	User           *string
	Password       *string
	TLS            bool
}

const smtpColumns = `id, instance_id, creation_date, change_date, sequence, state, description,
	sender_address, sender_name, reply_to_address, host, username, password, tls`

func scanSMTPConfig(row pgx.Row) (*SMTPConfig, error) {
	c := new(SMTPConfig)
	err := row.Scan(&c.ID, &c.InstanceID, &c.CreationDate, &c.ChangeDate, &c.Sequence, &c.State,
		&c.Description, &c.SenderAddress, &c.SenderName, &c.ReplyToAddress, &c.Host,
		&c.User, &c.Password, &c.TLS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return c, nil
}

// SMTPQueries serves instance SMTP configuration lookups.
type SMTPQueries struct {
	pool *database.Pool
}

func NewSMTPQueries(pool *database.Pool) *SMTPQueries {
	return &SMTPQueries{pool: pool}
}

// GetActiveSMTPConfig returns the instance's active config, nil when none is
// activated.
func (q *SMTPQueries) GetActiveSMTPConfig(ctx context.Context, instanceID string) (*SMTPConfig, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.smtp_configs WHERE instance_id = $1 AND state = $2`, smtpColumns),
		instanceID, domain.SMTPConfigStateActive)
	return scanSMTPConfig(row)
}

// GetSMTPConfigByID returns one config or nil.
func (q *SMTPQueries) GetSMTPConfigByID(ctx context.Context, instanceID, id string) (*SMTPConfig, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.smtp_configs WHERE instance_id = $1 AND id = $2`, smtpColumns),
		instanceID, id)
	return scanSMTPConfig(row)
}

// ListSMTPConfigs lists the instance's configs, active first.
func (q *SMTPQueries) ListSMTPConfigs(ctx context.Context, instanceID string) ([]*SMTPConfig, error) {
	rows, err := q.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.smtp_configs WHERE instance_id = $1 ORDER BY state DESC, creation_date`, smtpColumns),
		instanceID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var configs []*SMTPConfig
	for rows.Next() {
		c, err := scanSMTPConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return configs, nil
}
