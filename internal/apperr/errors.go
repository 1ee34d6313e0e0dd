// Package apperr defines the domain error taxonomy shared by the data-access core.
//
// Every error carries enough context (entity, field, value) for the transport
// layer to render a precise message. Rendering is not done here.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. The typed errors below match them.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrIntrospection    = errors.New("schema introspection failed")
	ErrInvalid          = errors.New("invalid input")
)

// NotFoundError reports a missing entity or a dangling reference.
type NotFoundError struct {
	Entity string
	Field  string
	Value  any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with %s=%v not found", e.Entity, e.Field, e.Value)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyExistsError reports a uniqueness violation. Field holds the
// constraint columns joined by ",", Value the offending tuple.
type AlreadyExistsError struct {
	Entity string
	Field  string
	Value  any
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with %s=%v already exists", e.Entity, e.Field, e.Value)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// PermissionDeniedError is returned when a role's permission set is empty or
// lacks a required permission.
type PermissionDeniedError struct {
	RoleID     string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	if e.Permission == "" {
		return fmt.Sprintf("role %q has no permissions", e.RoleID)
	}
	return fmt.Sprintf("role %q lacks permission %q", e.RoleID, e.Permission)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// IntrospectionError wraps a failed catalog query. It is fatal to the write
// that triggered it and is never retried automatically.
type IntrospectionError struct {
	Table string
	Err   error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspect %s: %v", e.Table, e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

func (e *IntrospectionError) Is(target error) bool { return target == ErrIntrospection }

// InvalidError reports input that cannot be converted to a column's type.
type InvalidError struct {
	Entity string
	Field  string
	Value  any
	Err    error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s %s: invalid value %v: %v", e.Entity, e.Field, e.Value, e.Err)
}

func (e *InvalidError) Unwrap() error { return e.Err }

func (e *InvalidError) Is(target error) bool { return target == ErrInvalid }

// NotFound builds a NotFoundError.
func NotFound(entity, field string, value any) *NotFoundError {
	return &NotFoundError{Entity: entity, Field: field, Value: value}
}

// AlreadyExists builds an AlreadyExistsError.
func AlreadyExists(entity, field string, value any) *AlreadyExistsError {
	return &AlreadyExistsError{Entity: entity, Field: field, Value: value}
}

// PermissionDenied builds a PermissionDeniedError.
func PermissionDenied(roleID, permission string) *PermissionDeniedError {
	return &PermissionDeniedError{RoleID: roleID, Permission: permission}
}
