// Package validation provides small composable checks for run inputs: dataset
// counts and names, key widths and the presence of key columns.
package validation

import (
	"fmt"
	"strings"

	errs "github.com/paveg/tuplejoin/internal/errors"
)

// Validator checks one condition.
type Validator interface {
	Validate() error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func() error

func (f ValidatorFunc) Validate() error { return f() }

// ColumnProvider is anything that names its columns, such as a tuple.
type ColumnProvider interface {
	Columns() []string
}

// ColumnValidator checks that every column exists, ignoring case.
type ColumnValidator struct {
	row     ColumnProvider
	columns []string
	op      string
}

// NewColumnValidator creates a validator for the columns of row.
func NewColumnValidator(row ColumnProvider, op string, columns ...string) *ColumnValidator {
	return &ColumnValidator{row: row, columns: columns, op: op}
}

func (v *ColumnValidator) Validate() error {
	have := v.row.Columns()
	for _, column := range v.columns {
		found := false
		for _, c := range have {
			if strings.EqualFold(c, column) {
				found = true
				break
			}
		}
		if !found {
			return errs.NewColumnNotFoundError(v.op, column)
		}
	}
	return nil
}

// LengthValidator checks that a count matches what was declared.
type LengthValidator struct {
	expected int
	actual   int
	op       string
	context  string
}

// NewLengthValidator creates a validator reporting mismatches as
// "context: expected N, got M".
func NewLengthValidator(expected, actual int, op, context string) *LengthValidator {
	return &LengthValidator{expected: expected, actual: actual, op: op, context: context}
}

func (v *LengthValidator) Validate() error {
	if v.expected != v.actual {
		return errs.NewInvalidInputError(v.op,
			fmt.Sprintf("%s: expected %d, got %d", v.context, v.expected, v.actual))
	}
	return nil
}

// NameValidator checks that a name matches the declared one, ignoring case.
type NameValidator struct {
	expected string
	actual   string
	op       string
	context  string
}

// NewNameValidator creates a name validator.
func NewNameValidator(expected, actual, op, context string) *NameValidator {
	return &NameValidator{expected: expected, actual: actual, op: op, context: context}
}

func (v *NameValidator) Validate() error {
	if !strings.EqualFold(v.expected, v.actual) {
		return errs.NewInvalidInputError(v.op,
			fmt.Sprintf("%s: expected %q, got %q", v.context, v.expected, v.actual))
	}
	return nil
}

// NotEmptyValidator checks that a collection has at least one element.
type NotEmptyValidator struct {
	n       int
	op      string
	context string
}

// NewNotEmptyValidator creates a validator for a collection of n elements.
func NewNotEmptyValidator(n int, op, context string) *NotEmptyValidator {
	return &NotEmptyValidator{n: n, op: op, context: context}
}

func (v *NotEmptyValidator) Validate() error {
	if v.n == 0 {
		return errs.NewInvalidInputError(v.op, v.context+": must not be empty")
	}
	return nil
}

// CompoundValidator runs validators in order.
type CompoundValidator struct {
	validators []Validator
}

// NewCompoundValidator creates a validator that checks multiple conditions.
func NewCompoundValidator(validators ...Validator) *CompoundValidator {
	return &CompoundValidator{validators: validators}
}

// Add appends more validators.
func (v *CompoundValidator) Add(validators ...Validator) *CompoundValidator {
	v.validators = append(v.validators, validators...)
	return v
}

// Validate returns the first error encountered.
func (v *CompoundValidator) Validate() error {
	for _, validator := range v.validators {
		if err := validator.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateColumns is a convenience function for column validation.
func ValidateColumns(row ColumnProvider, op string, columns ...string) error {
	return NewColumnValidator(row, op, columns...).Validate()
}

// ValidateLength is a convenience function for length validation.
func ValidateLength(expected, actual int, op, context string) error {
	return NewLengthValidator(expected, actual, op, context).Validate()
}
