package pipeline

import (
	"context"
	"errors"
	"fmt"

	"inferd/internal/artifact"
)

// validationError covers malformed requests and schema mismatches. Mapped to
// 400 by the HTTP layer.
type validationError struct {
	field string
	msg   string
}

func (e *validationError) Error() string {
	if e.field == "" {
		return e.msg
	}
	return fmt.Sprintf("field %q: %s", e.field, e.msg)
}

// NewValidationError builds a request-level validation error.
func NewValidationError(msg string) error {
	return &validationError{msg: msg}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *validationError
	if errors.As(err, &ve) {
		return true
	}
	var fe *artifact.FieldError
	return errors.As(err, &fe)
}

// featureStoreError wraps transient tier I/O that survived the inline retry.
// Mapped to 502.
type featureStoreError struct{ err error }

func (e *featureStoreError) Error() string { return "feature store: " + e.err.Error() }
func (e *featureStoreError) Unwrap() error { return e.err }

// IsFeatureStore reports whether err is a feature-store failure.
func IsFeatureStore(err error) bool {
	var fe *featureStoreError
	return errors.As(err, &fe)
}

// predictorError wraps a failure inside predictor invocation. Non-retryable;
// mapped to 500.
type predictorError struct{ err error }

func (e *predictorError) Error() string { return "predictor: " + e.err.Error() }
func (e *predictorError) Unwrap() error { return e.err }

// IsPredictor reports whether err is a predictor failure.
func IsPredictor(err error) bool {
	var pe *predictorError
	return errors.As(err, &pe)
}

// IsTimeout reports whether err is a deadline/cancellation failure. Mapped
// to 504 with status=timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
