package shared

import "errors"

// Error taxonomy shared by domain services. Services wrap these with
// fmt.Errorf("...: %w", shared.Err...) so the HTTP layer can map them
// with errors.Is without knowing domain specifics.
var (
	// ErrNotFound indicates a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the mutation collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)
