package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Transactor runs fn against queries bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor = func(ctx context.Context, fn func(tx *Queries) error) error

func NewTransactor(conn *sql.DB) Transactor {
	return func(ctx context.Context, fn func(tx *Queries) error) error {
		sqltx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}

		err = fn(New(sqltx))
		if err != nil {
			rollbackErr := sqltx.Rollback()
			if rollbackErr != nil {
				return errors.Join(err, fmt.Errorf("rollback: %w", rollbackErr))
			}
			return err
		}
		err = sqltx.Commit()
		if err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
}
