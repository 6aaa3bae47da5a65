package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/repository"
)

// DB is the pool handle services run against: plain queries for reads and
// BeginTx for atomic units. *pgxpool.Pool satisfies it.
type DB interface {
	repository.DBTX
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// inTx runs fn in one transaction. A non-nil error with atCommit=true means
// fn succeeded but the commit failed, so the outcome is unknown.
func inTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) (atCommit bool, err error) {
	err = pgx.BeginTxFunc(ctx, db, txOptions, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		atCommit = true
		return nil
	})
	return atCommit, err
}

// appError passes domain errors through and wraps everything else.
func appError(msg string, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrInternal(msg, err)
}

func clampLimit(limit, def, ceiling int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, ceiling)
}
