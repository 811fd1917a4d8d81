package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique
// constraint. The constraint is the authoritative duplicate guard;
// handler-level existence checks are fast paths only.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}
