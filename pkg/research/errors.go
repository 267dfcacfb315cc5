package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// errEmptySynthesis marks a synthesis call that returned no content.
var errEmptySynthesis = errors.New("empty synthesis result")

// Failure categories surfaced to clients and recorded on tool observations.
const (
	CategoryValidation = "validation_error"
	CategoryPlanning   = "planning_error"
	CategoryProvider   = "provider_error"
	CategoryTimeout    = "timeout"
	CategoryCanceled   = "canceled"
	CategoryInternal   = "internal_error"
)

// ValidationError marks a request the caller must fix; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a field-level validation failure.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PlanningError marks a first-pass plan that produced no usable
// sub-queries. There is nothing to research, so the request fails.
type PlanningError struct {
	Cause error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Cause)
}

func (e *PlanningError) Unwrap() error { return e.Cause }

// ProviderError wraps an upstream LLM provider failure.
type ProviderError struct {
	Stage string
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider failure during %s: %v", e.Stage, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Categorize maps an error to its failure category.
func Categorize(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	default:
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return CategoryValidation
	}
	var planning *PlanningError
	if errors.As(err, &planning) {
		return CategoryPlanning
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		return CategoryProvider
	}
	return CategoryInternal
}

// ValidateRequest normalizes and checks a request in place.
func ValidateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return NewValidationError("query", "must not be empty")
	}
	switch req.Params.CostPreference {
	case "":
		req.Params.CostPreference = "low"
	case "low", "high":
	default:
		return NewValidationError("costPreference", "must be low or high")
	}
	switch req.Params.AudienceLevel {
	case "":
		req.Params.AudienceLevel = "intermediate"
	case "beginner", "intermediate", "expert":
	default:
		return NewValidationError("audienceLevel", "must be beginner, intermediate, or expert")
	}
	switch req.Params.OutputFormat {
	case "":
		req.Params.OutputFormat = "report"
	case "report", "summary", "bullet_points":
	default:
		return NewValidationError("outputFormat", "must be report, summary, or bullet_points")
	}
	if req.Params.MaxLength < 0 {
		return NewValidationError("maxLength", "must be non-negative")
	}
	return nil
}
