package ptz

import "context"

// Controller defines the interface for driving one PTZ camera
type Controller interface {
	// Move validates cmd and sends it to the camera.
	// Failures are returned as *Error.
	Move(ctx context.Context, cmd Command) error

	// Close releases network resources held by the controller
	Close() error
}
