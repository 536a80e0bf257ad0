package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidUsername    = errors.New("username must not be empty")
	ErrInvalidURL         = errors.New("url must be an absolute http(s) URL")
	ErrInvalidContentType = errors.New("invalid content type: must be live, video, photo, or unknown")
	ErrInvalidDestination = errors.New("destination channel id must not be empty")
	ErrInvalidStatus      = errors.New("invalid status: must be pending, done, or failed")
	ErrUnknownEngine      = errors.New("unknown download engine")
	ErrProvisioning       = errors.New("destination provisioning failed")
	ErrDestinationGone    = errors.New("destination no longer exists")
	ErrTopicUnavailable   = errors.New("secondary topic unavailable")
	ErrDrainInProgress    = errors.New("queue drain already in progress")
)

// RetrievalError reports that an engine could not produce usable media.
// The processor degrades to link-only delivery when it sees one.
type RetrievalError struct {
	Engine string
	URL    string
	Cause  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s via %q: %v", e.URL, e.Engine, e.Cause)
}

func (e *RetrievalError) Unwrap() error { return e.Cause }

// Platform names a delivery backend.
type Platform string

const (
	PlatformPrimary   Platform = "discord"
	PlatformSecondary Platform = "telegram"
)

// DeliveryError reports that one platform adapter failed for one job.
type DeliveryError struct {
	Platform Platform
	Cause    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Platform, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }
