package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/plaenen/iamcore/pkg/domain"
)

type txKey struct{}

func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// WithTransaction runs fn inside a single transaction. The transaction is
// carried in the context handed to fn, so every Pool call made through that
// context joins it; a nested WithTransaction reuses the active transaction
// instead of opening a second one. Any error bubbling out of fn rolls the
// transaction back.
func (p *Pool) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := p.pgx.Begin(ctx)
	if err != nil {
		return domain.NewIntegrationError(err)
	}

	err = fn(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

// Savepoint runs fn inside a savepoint on the transaction carried by ctx.
func (p *Pool) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return Savepoint(ctx, fn)
}

// Savepoint runs fn inside a savepoint on the active transaction. On error
// the savepoint is rolled back and the outer transaction stays usable. The
// context must carry a transaction.
func Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return domain.NewIntegrationError(errors.New("savepoint requires an active transaction"))
	}

	// pgx nests transactions on an open Tx via savepoints.
	sp, err := tx.Begin(ctx)
	if err != nil {
		return domain.NewIntegrationError(err)
	}

	err = fn(context.WithValue(ctx, txKey{}, sp))
	if err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}
