package db

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// ErrConstraintViolation marks a storage-reported integrity failure; the
// driver error is preserved in the chain
var ErrConstraintViolation = errors.New("constraint violation")

// MySQL server error numbers reported as constraint violations
const (
	mysqlDuplicateEntry  = 1062
	mysqlColumnNotNull   = 1048
	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
)

// ConstraintError wraps a driver error classified as a constraint violation
type ConstraintError struct {
	Err error
}

func (e *ConstraintError) Error() string {
	return "constraint violation: " + e.Err.Error()
}

// Unwrap exposes both the sentinel and the verbatim driver error
func (e *ConstraintError) Unwrap() []error {
	return []error{ErrConstraintViolation, e.Err}
}

// IsConstraintViolation checks if an error is a constraint violation
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// classify wraps constraint failures reported by MySQL or SQLite
func classify(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlColumnNotNull, mysqlRowIsReferenced, mysqlNoReferencedRow:
			return &ConstraintError{Err: err}
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		return &ConstraintError{Err: err}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return &ConstraintError{Err: err}
	}
	return err
}
