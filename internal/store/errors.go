package store

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres error classes the pipeline branches on.
const (
	pqLockNotAvailable = "55P03"
	pqQueryCanceled    = "57014"
	pqUniqueViolation  = "23505"
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// IsLockNotAvailable reports a FOR UPDATE NOWAIT conflict.
func IsLockNotAvailable(err error) bool {
	return pqCode(err) == pqLockNotAvailable
}

// IsQueryCanceled reports a statement-timeout cancellation.
func IsQueryCanceled(err error) bool {
	return pqCode(err) == pqQueryCanceled
}

// IsUniqueViolation reports a unique-constraint conflict.
func IsUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}
