package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// translate maps driver errors onto the package's sentinel errors.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "foreign_key_violation":
			return fmt.Errorf("%s: %w: %s", op, ErrNotFound, pqErr.Constraint)
		case "check_violation", "not_null_violation", "invalid_text_representation", "numeric_value_out_of_range":
			return fmt.Errorf("%s: %w: %s", op, ErrInvalid, pqErr.Message)
		case "unique_violation":
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
