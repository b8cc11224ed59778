package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "ErrInputUnrecognized", err: ErrInputUnrecognized, expected: "input unrecognized"},
		{name: "ErrCapabilityUnavailable", err: ErrCapabilityUnavailable, expected: "scanner capability unavailable"},
		{name: "ErrPermissionDenied", err: ErrPermissionDenied, expected: "camera permission denied"},
		{name: "ErrDeviceNotFound", err: ErrDeviceNotFound, expected: "camera not found"},
		{name: "ErrDeviceBusy", err: ErrDeviceBusy, expected: "camera busy"},
		{name: "ErrStartFailed", err: ErrStartFailed, expected: "camera start failed"},
		{name: "ErrNotScanning", err: ErrNotScanning, expected: "not scanning"},
		{name: "ErrVideoUnavailable", err: ErrVideoUnavailable, expected: "video unavailable"},
		{name: "ErrRateLimited", err: ErrRateLimited, expected: "rate limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error message '%s', got '%s'", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorUniqueness(t *testing.T) {
	errorList := []error{
		ErrInputUnrecognized,
		ErrCapabilityUnavailable,
		ErrPermissionDenied,
		ErrDeviceNotFound,
		ErrDeviceBusy,
		ErrStartFailed,
		ErrNotScanning,
		ErrNothingLoaded,
		ErrNotPlaying,
		ErrEmbedFailed,
		ErrVideoUnavailable,
		ErrNotEmbeddable,
		ErrRateLimited,
		ErrSessionNotFound,
	}

	for i, err1 := range errorList {
		for j, err2 := range errorList {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Error %d and %d should not be equal", i, j)
			}
		}
	}
}

func TestWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("mount %q: %w", "reader", ErrCapabilityUnavailable)
	if !errors.Is(wrapped, ErrCapabilityUnavailable) {
		t.Error("wrapped error should match ErrCapabilityUnavailable")
	}
	if errors.Is(wrapped, ErrStartFailed) {
		t.Error("wrapped error should not match ErrStartFailed")
	}
}
