package selection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMissingSelection means neither a district nor a polygon was chosen.
	ErrMissingSelection = errors.New("missing selection")
	// ErrExclusiveViolation means more than one selection unit is present.
	ErrExclusiveViolation = errors.New("exclusive selection violated")
)

// Code classifies a field-level validation failure.
type Code string

const (
	CodeMissingSelection   Code = "MissingSelection"
	CodeExclusiveViolation Code = "ExclusiveViolation"
	CodeInvalidValue       Code = "InvalidValue"
)

const (
	missingSelectionMessage   = "select a district or draw a custom area"
	exclusiveViolationMessage = "choose either one district or one custom area, not both"
)

// Issue is a single validation message attached to a field.
type Issue struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every field-level issue found at submission.
type ValidationError struct {
	Fields map[Field][]Issue `json:"fields"`
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, string(field))
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		for _, issue := range e.Fields[Field(field)] {
			parts = append(parts, fmt.Sprintf("%s: %s", field, issue.Message))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets callers match the submission-level sentinels with errors.Is.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrMissingSelection:
		return e.Has(CodeMissingSelection)
	case ErrExclusiveViolation:
		return e.Has(CodeExclusiveViolation)
	}
	return false
}

// Has reports whether any field carries the given code.
func (e *ValidationError) Has(code Code) bool {
	for _, issues := range e.Fields {
		for _, issue := range issues {
			if issue.Code == code {
				return true
			}
		}
	}
	return false
}

// FieldCodes lists the codes attached to one field.
func (e *ValidationError) FieldCodes(field Field) []Code {
	var codes []Code
	for _, issue := range e.Fields[field] {
		codes = append(codes, issue.Code)
	}
	return codes
}

func (e *ValidationError) add(field Field, code Code, message string) {
	if e.Fields == nil {
		e.Fields = make(map[Field][]Issue)
	}
	e.Fields[field] = append(e.Fields[field], Issue{Code: code, Message: message})
}

// submission mirrors the payload with the structural rules each entry must
// satisfy. District ids are opaque and carry no rule.
type submission struct {
	CustomPolygon []Feature `validate:"dive"`
}

var structValidator = validator.New()

// Validate checks a selection at submission time. Exactly one selection unit
// must be present; when that fails the same issue is attached to both
// fields so neither control appears valid on its own.
func Validate(s State) error {
	verr := &ValidationError{}

	units := len(s.DistrictIDs) + len(s.PolygonFeatures)
	switch {
	case units == 0:
		verr.add(FieldDistricts, CodeMissingSelection, missingSelectionMessage)
		verr.add(FieldPolygon, CodeMissingSelection, missingSelectionMessage)
	case units > 1:
		verr.add(FieldDistricts, CodeExclusiveViolation, exclusiveViolationMessage)
		verr.add(FieldPolygon, CodeExclusiveViolation, exclusiveViolationMessage)
	}

	if err := structValidator.Struct(submission{CustomPolygon: s.PolygonFeatures}); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("failed to validate selection: %w", err)
		}
		for _, fe := range ve {
			verr.add(FieldPolygon, CodeInvalidValue, getValidationMessage(fe))
		}
	}

	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

func getValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "geometry is required"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
