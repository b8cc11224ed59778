// Package scanner drives a camera QR scanning capability through its start and
// stop lifecycle.
//
// The capability itself (a browser library, an external decoder process, a
// script) is an external collaborator. The Controller owns the only mutable
// state: which lifecycle state the camera is in and what the last start
// failure was.
package scanner

import "context"

// Facing is the preferred camera direction.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Box is the square detection region in logical pixels.
type Box struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config is passed verbatim to the capability on start.
type Config struct {
	FPS    int    `json:"fps"`
	QRBox  Box    `json:"qrbox"`
	Facing Facing `json:"-"`
}

// DefaultConfig targets ~10 frames/s, a 250x250 region and the rear camera.
func DefaultConfig() Config {
	return Config{
		FPS:    10,
		QRBox:  Box{Width: 250, Height: 250},
		Facing: FacingEnvironment,
	}
}

// Capability is the camera scanning collaborator.
//
// Start returns once the camera is streaming or has failed. After a successful
// Start the capability calls onSuccess for every decoded code and onFailure for
// frames without one; both may be called from any goroutine. Stop halts the
// camera, returning errs.ErrNotScanning if it was not running. Clear releases
// whatever the capability attached to its mount point.
type Capability interface {
	Start(ctx context.Context, facing Facing, cfg Config, onSuccess func(text string), onFailure func(err error)) error
	Stop(ctx context.Context) error
	Clear() error
}

// Factory constructs a capability bound to a named mount point.
type Factory func(mountID string) (Capability, error)
