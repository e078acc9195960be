package uow

import (
	"errors"
	"fmt"

	"github.com/ammar0144/sql4go/pkg/db"
)

// Sentinel errors for unit of work operations
var (
	// ErrDuplicateIdentity is returned when two distinct instances claim one key
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrOptimisticLock is returned when an update or delete matched no row at the expected version
	ErrOptimisticLock = errors.New("optimistic lock failed")

	// ErrUnresolvedRelationship is returned when a foreign key references a row that does not exist
	ErrUnresolvedRelationship = errors.New("unresolved relationship")

	// ErrNotManaged is returned for operations that need a tracked instance
	ErrNotManaged = errors.New("entity is not managed")

	// ErrConstraintViolation is reported verbatim by the storage engine
	ErrConstraintViolation = db.ErrConstraintViolation
)

// OptimisticLockError identifies the entity whose version check failed
type OptimisticLockError struct {
	Entity          string
	Key             any
	ExpectedVersion int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed for %s#%v: version %d is outdated", e.Entity, e.Key, e.ExpectedVersion)
}

func (e *OptimisticLockError) Unwrap() error {
	return ErrOptimisticLock
}

// Operation names used in FlushError
const (
	OpInsert  = "insert"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpCompute = "compute"
)

// FlushError is the single error a failed flush returns
type FlushError struct {
	Op     string
	Entity string
	Key    any
	Err    error
}

func (e *FlushError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("flush %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("flush %s %s#%v: %v", e.Op, e.Entity, e.Key, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// IsOptimisticLock checks if an error is an optimistic lock failure
func IsOptimisticLock(err error) bool {
	return errors.Is(err, ErrOptimisticLock)
}

// IsDuplicateIdentity checks if an error is ErrDuplicateIdentity
func IsDuplicateIdentity(err error) bool {
	return errors.Is(err, ErrDuplicateIdentity)
}

// IsUnresolvedRelationship checks if an error is ErrUnresolvedRelationship
func IsUnresolvedRelationship(err error) bool {
	return errors.Is(err, ErrUnresolvedRelationship)
}

// errorf wraps a sentinel with a formatted detail message
func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
