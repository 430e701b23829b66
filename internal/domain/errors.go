package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during fusion operations.
var (
	// ErrNoSources indicates that no positively weighted source score was
	// available for a fusion.
	ErrNoSources = errors.New("no sources available")

	// ErrFeatureShape indicates that a feature vector does not match the
	// schema expected by the skill's scoring function.
	ErrFeatureShape = errors.New("feature vector shape mismatch")

	// ErrModelUnavailable indicates that no scoring function could be loaded
	// for a skill.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrUnknownSkill indicates that a skill has no configuration.
	ErrUnknownSkill = errors.New("unknown skill")

	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// FeatureShapeError reports a feature vector whose length, field order or
// schema version differs from the skill's schema. It is a caller bug and is
// never retried.
type FeatureShapeError struct {
	// Skill is the skill whose schema was violated.
	Skill string

	// Expected is the schema length.
	Expected int

	// Got is the vector length received.
	Got int

	// Detail describes the first mismatch found.
	Detail string
}

// Error implements the error interface for FeatureShapeError.
func (e *FeatureShapeError) Error() string {
	return fmt.Sprintf("feature shape error: skill=%s, expected=%d, got=%d: %s",
		e.Skill, e.Expected, e.Got, e.Detail)
}

// Unwrap lets errors.Is match ErrFeatureShape.
func (e *FeatureShapeError) Unwrap() error { return ErrFeatureShape }

// NewFeatureShapeError creates a new FeatureShapeError with the given details.
func NewFeatureShapeError(skill string, expected, got int, detail string) *FeatureShapeError {
	return &FeatureShapeError{Skill: skill, Expected: expected, Got: got, Detail: detail}
}

// ModelUnavailableError reports that the scoring artifact for a skill is
// missing or unreadable. It is fatal for that skill and not retried.
type ModelUnavailableError struct {
	// Skill is the skill whose model could not be loaded.
	Skill string

	// Err is the underlying load failure, if any.
	Err error
}

// Error implements the error interface for ModelUnavailableError.
func (e *ModelUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model unavailable: skill=%s", e.Skill)
	}
	return fmt.Sprintf("model unavailable: skill=%s, err=%v", e.Skill, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ModelUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrModelUnavailable}
	}
	return []error{ErrModelUnavailable, e.Err}
}

// NewModelUnavailableError creates a new ModelUnavailableError.
func NewModelUnavailableError(skill string, err error) *ModelUnavailableError {
	return &ModelUnavailableError{Skill: skill, Err: err}
}

// NoSourcesError reports a fusion attempted with no usable source. Zero
// weights count as absence.
type NoSourcesError struct {
	// Skill is the skill being fused.
	Skill string

	// Offered is the number of scores supplied before weight filtering.
	Offered int
}

// Error implements the error interface for NoSourcesError.
func (e *NoSourcesError) Error() string {
	return fmt.Sprintf("no sources: skill=%s, offered=%d", e.Skill, e.Offered)
}

// Unwrap lets errors.Is match ErrNoSources.
func (e *NoSourcesError) Unwrap() error { return ErrNoSources }

// NewNoSourcesError creates a new NoSourcesError.
func NewNoSourcesError(skill string, offered int) *NoSourcesError {
	return &NoSourcesError{Skill: skill, Offered: offered}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap lets errors.Is match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// IsFatal reports whether err invalidates a whole (subject, skill) unit:
// bad feature shape, missing model or no sources.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFeatureShape) ||
		errors.Is(err, ErrModelUnavailable) ||
		errors.Is(err, ErrNoSources)
}
