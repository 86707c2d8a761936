// Package registry implements the mesh's registration services: agent
// registration, KB registration, and directory queries (spec §4.5).
package registry

import "fmt"

// ErrValidation is returned when a registration request fails field
// validation, grounded on the reference service's ValidationError.
type ErrValidation struct {
	Field      string
	Message    string
	Suggestion string
}

func (e *ErrValidation) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("validation error in %q: %s (suggestion: %s)", e.Field, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("validation error in %q: %s", e.Field, e.Message)
}

// ErrUnsupportedKBType is returned when a KB registration names a type
// the mesh has no adapter for.
type ErrUnsupportedKBType struct {
	KBType    string
	Supported []string
}

func (e *ErrUnsupportedKBType) Error() string {
	return fmt.Sprintf("kb type %q is not supported, supported types: %v", e.KBType, e.Supported)
}

// ErrInvalidOperation is returned when a requested operation is not in
// the allowed set for the entity being registered.
type ErrInvalidOperation struct {
	Operation string
	Allowed   []string
}

func (e *ErrInvalidOperation) Error() string {
	return fmt.Sprintf("operation %q is not valid, allowed operations: %v", e.Operation, e.Allowed)
}

// ErrDuplicateIdentity is returned when an agent registration names an
// identity already present in the registry. Distinct from
// ErrValidation so callers (the REST façade, the bus handler) can tell
// a uniqueness conflict from a malformed field via errors.As.
type ErrDuplicateIdentity struct {
	Identity string
}

func (e *ErrDuplicateIdentity) Error() string {
	return fmt.Sprintf("agent identity %q is already registered", e.Identity)
}

// ErrDuplicateKB is returned when a KB registration names a kb_id
// already present in the registry.
type ErrDuplicateKB struct {
	KBID string
}

func (e *ErrDuplicateKB) Error() string {
	return fmt.Sprintf("kb_id %q is already registered", e.KBID)
}
