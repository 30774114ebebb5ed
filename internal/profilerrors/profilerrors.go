// Package profilerrors defines the service's named error kinds as sentinel
// errors usable with errors.Is, plus the HTTP status each kind surfaces as
// at the service façade.
package profilerrors

import (
	"errors"
	"net/http"
)

// Sentinel error kinds. Component errors should wrap one of these with
// fmt.Errorf("...: %w", err) so callers can recover the kind via errors.Is.
var (
	// ErrInsufficientInput: events list too short for the requested operation
	// (< 5 for identify, < 10 for per-sample training feature extraction).
	ErrInsufficientInput = errors.New("profiler: insufficient input")

	// ErrModelNotReady: prediction requested with no live artifact.
	ErrModelNotReady = errors.New("profiler: model not ready")

	// ErrInsufficientData: training ran but fewer than 5 valid vectors
	// survived filtering.
	ErrInsufficientData = errors.New("profiler: insufficient training data")

	// ErrPersistenceFailure: a store write failed during submit or artifact
	// save.
	ErrPersistenceFailure = errors.New("profiler: persistence failure")

	// ErrInternalComputationFailure: NaN/Inf in softmax, deserialization
	// failure for a stored session, or similar.
	ErrInternalComputationFailure = errors.New("profiler: internal computation failure")
)

// HTTPStatus maps an error (checked via errors.Is against the sentinels
// above) to the HTTP status the façade should respond with. Errors that
// don't match any sentinel default to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInsufficientInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientData):
		return http.StatusBadRequest
	case errors.Is(err, ErrModelNotReady):
		// ModelNotReady is surfaced as a benign 200 by the identify handler
		// itself (user="Unknown", confidence=0, status="Error"); callers that
		// reach this mapper directly (e.g. train) still get a meaningful code.
		return http.StatusOK
	case errors.Is(err, ErrPersistenceFailure):
		return http.StatusInternalServerError
	case errors.Is(err, ErrInternalComputationFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
