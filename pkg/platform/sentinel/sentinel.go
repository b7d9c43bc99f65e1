package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: document or remote entity does not exist
//   - ErrConflict: remote entity already exists (e.g. branch ref)
//   - ErrUnavailable: backing service unreachable
//   - ErrDuplicate: an at-least-once delivery was already seen
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrDuplicate   = errors.New("duplicate delivery")
)
