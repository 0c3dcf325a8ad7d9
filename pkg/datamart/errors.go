package datamart

import "fmt"

// NotRegisteredError reports a dimension name with no registry row. It is a
// precondition violation and always surfaces to the caller.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("dimension %q is not registered", e.Name)
}

// UnknownTypeError reports a persisted dimension whose type key is not present
// in the in-process type registry. Distinct from NotRegisteredError: the
// registry row exists, the running binary just cannot reconstruct it.
type UnknownTypeError struct {
	Name    string
	TypeKey string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("dimension %q has unknown type key %q", e.Name, e.TypeKey)
}

// PopulationError reports a bulk load rejected by the store. The state of the
// target table is whatever the store's own transactional semantics left
// behind; no application-level rollback is attempted.
type PopulationError struct {
	Table string
	Err   error
}

func (e *PopulationError) Error() string {
	return fmt.Sprintf("failed to populate %s: %v", e.Table, e.Err)
}

func (e *PopulationError) Unwrap() error {
	return e.Err
}

// UnresolvedReferenceError reports a declarative model referencing a
// dimension, type key, or source key that cannot be resolved. Raised before
// any DDL is issued so a bad declaration never leaves a half-built schema.
type UnresolvedReferenceError struct {
	Kind string // "dimension", "dimension type", "source"
	By   string // the declaring entity
	Ref  string // the unresolved reference
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references unknown %s %q", e.By, e.Kind, e.Ref)
}
