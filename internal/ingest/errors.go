package ingest

import "errors"

// Sentinel errors map to the error kinds in §7; the HTTP boundary (internal/httpapi)
// is responsible for turning these into the right status code.
var (
	ErrForbidden  = errors.New("ingest: caller is not authorized for this operation")
	ErrNotFound   = errors.New("ingest: entity not found")
	ErrBadRequest = errors.New("ingest: invalid request")
)
