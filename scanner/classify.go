package scanner

import (
	"errors"
	"strings"

	"github.com/ytget/qrplay/errs"
)

// CameraError is a classified camera start failure. Kind is one of
// errs.ErrPermissionDenied, errs.ErrDeviceNotFound, errs.ErrDeviceBusy or
// errs.ErrStartFailed.
type CameraError struct {
	Kind  error
	Cause error
}

// Error implements the error interface
func (e *CameraError) Error() string {
	if e.Cause != nil {
		return e.Kind.Error() + ": " + e.Cause.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *CameraError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Message is the text shown to the user.
func (e *CameraError) Message() string {
	return Message(e.Kind)
}

const msgStartFailed = "Could not start the camera."

// messages is checked in order; the first matching kind wins.
var messages = []struct {
	kind error
	msg  string
}{
	{errs.ErrPermissionDenied, "Camera permission denied."},
	{errs.ErrDeviceNotFound, "No camera found."},
	{errs.ErrDeviceBusy, "The camera is already in use."},
	{errs.ErrStartFailed, msgStartFailed},
}

// Message returns the user-facing text for a camera failure kind, or the
// generic text for anything else. A *CameraError is described by its Kind,
// whatever its cause wraps.
func Message(kind error) string {
	var ce *CameraError
	if errors.As(kind, &ce) && ce.Kind != nil {
		kind = ce.Kind
	}
	for _, m := range messages {
		if errors.Is(kind, m.kind) {
			return m.msg
		}
	}
	return msgStartFailed
}

// namedError is implemented by capability errors that carry a DOM-style name
// such as NotAllowedError.
type namedError interface {
	ErrorName() string
}

var byName = map[string]error{
	"NotAllowedError":       errs.ErrPermissionDenied,
	"PermissionDeniedError": errs.ErrPermissionDenied,
	"SecurityError":         errs.ErrPermissionDenied,
	"NotFoundError":         errs.ErrDeviceNotFound,
	"DevicesNotFoundError":  errs.ErrDeviceNotFound,
	"OverconstrainedError":  errs.ErrDeviceNotFound,
	"NotReadableError":      errs.ErrDeviceBusy,
	"TrackStartError":       errs.ErrDeviceBusy,
	"AbortError":            errs.ErrDeviceBusy,
}

var byText = []struct {
	needle string
	kind   error
}{
	{"permission denied", errs.ErrPermissionDenied},
	{"not allowed", errs.ErrPermissionDenied},
	{"requested device not found", errs.ErrDeviceNotFound},
	{"device not found", errs.ErrDeviceNotFound},
	{"no camera", errs.ErrDeviceNotFound},
	{"device or resource busy", errs.ErrDeviceBusy},
	{"in use", errs.ErrDeviceBusy},
}

// Classify maps a capability start failure to a *CameraError. It returns nil
// for nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *CameraError
	if errors.As(err, &ce) {
		return ce
	}
	for _, kind := range []error{errs.ErrPermissionDenied, errs.ErrDeviceNotFound, errs.ErrDeviceBusy, errs.ErrStartFailed} {
		if errors.Is(err, kind) {
			return &CameraError{Kind: kind, Cause: err}
		}
	}
	var named namedError
	if errors.As(err, &named) {
		if kind, ok := byName[named.ErrorName()]; ok {
			return &CameraError{Kind: kind, Cause: err}
		}
	}
	text := strings.ToLower(err.Error())
	for _, m := range byText {
		if strings.Contains(text, m.needle) {
			return &CameraError{Kind: m.kind, Cause: err}
		}
	}
	return &CameraError{Kind: errs.ErrStartFailed, Cause: err}
}

// alreadyRunning reports a start failure caused by the capability already
// streaming; the controller treats it as success.
func alreadyRunning(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already running")
}

// notScanning reports a stop failure that means the camera was already off.
func notScanning(err error) bool {
	return errors.Is(err, errs.ErrNotScanning) ||
		(err != nil && strings.Contains(strings.ToLower(err.Error()), "not scanning"))
}
