package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches and clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store or cache
//   - ErrUnavailable: backing service (cache, broker) cannot be reached
//   - ErrInvalidState: record is in the wrong state for the operation
//
// For validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
