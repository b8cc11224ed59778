package errs

import (
	"errors"
)

var (
	// ErrInputUnrecognized indicates that the input is not a supported media link.
	ErrInputUnrecognized = errors.New("input unrecognized")
	// ErrCapabilityUnavailable indicates that the scanning capability could not be
	// constructed, usually because its mount point is missing.
	ErrCapabilityUnavailable = errors.New("scanner capability unavailable")
	// ErrPermissionDenied indicates that access to the camera was refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceNotFound indicates that no usable camera exists.
	ErrDeviceNotFound = errors.New("camera not found")
	// ErrDeviceBusy indicates that the camera is held by another process or page.
	ErrDeviceBusy = errors.New("camera busy")
	// ErrStartFailed is the generic camera start failure.
	ErrStartFailed = errors.New("camera start failed")
	// ErrNotScanning is reported by a capability asked to stop while idle.
	// Callers treat it as a successful stop.
	ErrNotScanning = errors.New("not scanning")

	// ErrNothingLoaded indicates that no media reference is loaded.
	ErrNothingLoaded = errors.New("nothing loaded")
	// ErrNotPlaying indicates that the player frame has not been mounted yet.
	ErrNotPlaying = errors.New("not playing")
	// ErrEmbedFailed indicates that the embed URL could not be built.
	ErrEmbedFailed = errors.New("embed failed")

	// ErrVideoUnavailable indicates that the requested video cannot be accessed.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrNotEmbeddable indicates that the owner disabled embedding.
	ErrNotEmbeddable = errors.New("video not embeddable")
	// ErrRateLimited indicates throttling or rate limiting by the remote service.
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionNotFound indicates an unknown or expired game session.
	ErrSessionNotFound = errors.New("session not found")
)
