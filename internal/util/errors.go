package util

import (
	"errors"
	"fmt"
)

var (
	ErrSchema       = errors.New("schema violation")
	ErrNotFound     = errors.New("not found")
	ErrPrecondition = errors.New("precondition failed")

	ErrEmptyEncoding = errors.New("encoder returned no sequences")
)

// SchemaError reports a required column missing from a named dataset, or a
// column whose values break the dataset contract when Reason is set.
type SchemaError struct {
	Column  string
	Dataset string
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s column in %s dataset: %s", e.Column, e.Dataset, e.Reason)
	}
	if e.Dataset == "" {
		return fmt.Sprintf("missing column %s in dataset", e.Column)
	}
	return fmt.Sprintf("%s column missing in %s dataset", e.Column, e.Dataset)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// NotFoundError names the registry coordinate that could not be resolved.
type NotFoundError struct {
	Kind   string
	Detail string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Detail)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }
