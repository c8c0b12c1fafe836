package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthRequired means no usable credential exists. The operator has to go
// through the connect flow again; nothing in the engine retries past it.
var ErrAuthRequired = errors.New("authentication required")

// ErrInvalidSnapshot marks a backup document that cannot be parsed. A broken
// document is rejected whole, never partially restored.
var ErrInvalidSnapshot = errors.New("invalid snapshot document")

// TransportError is a failed call against the storage provider. Status is the
// HTTP status code, or 0 when the request never produced a response.
type TransportError struct {
	Op      string // "upload", "list" or "download"
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("storage %s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("storage %s failed: status %d: %s", e.Op, e.Status, e.Message)
}

// AuthFailure reports whether the failure indicates an expired or rejected
// access token. Only 401 qualifies; 403 from the provider means quota or
// permissions, which a token refresh cannot fix.
func (e *TransportError) AuthFailure() bool {
	return e.Status == http.StatusUnauthorized
}

// IsAuthFailure reports whether err is an auth-classified transport failure,
// i.e. one that warrants a single refresh-and-retry.
func IsAuthFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.AuthFailure()
}

// RestoreError aborts a restore: an upsert against one collection failed and
// the remaining collections were not attempted.
type RestoreError struct {
	Collection Collection
	Err        error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restoring %s: %v", e.Collection, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// PruneWarning is a non-fatal failure while deleting records absent from the
// snapshot. The dataset is already FK-consistent after the upsert phase, so
// these are collected and reported rather than aborting.
type PruneWarning struct {
	Collection Collection
	Err        error
}

func (w PruneWarning) String() string {
	return fmt.Sprintf("pruning %s: %v", w.Collection, w.Err)
}
