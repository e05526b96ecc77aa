package store

import (
	"database/sql"
	"errors"
	"fmt"

	"wallet/internal/ledger"
)

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	return err
}

// expectOne turns a zero-row conditional update into errIfNone.
func expectOne(res sql.Result, errIfNone error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errIfNone
	}
	return nil
}
