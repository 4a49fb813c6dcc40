package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

const uniqueViolation pq.ErrorCode = "23505"

// mapError translates driver errors into the domain sentinels the services branch on.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Join(domain.ErrUniqueViolation, err)
	}
	return err
}
