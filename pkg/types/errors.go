package types

import "errors"

// Domain errors shared by the query layer and its callers
var (
	// Query errors
	ErrInvalidPage  = errors.New("offset and limit must be >= 0")
	ErrInvalidQuery = errors.New("invalid query")
)
