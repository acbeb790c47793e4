package simplefeed

import (
	"errors"
	"fmt"
)

var (
	// ErrInput indicates the term file could not be read.
	ErrInput = errors.New("input error")

	// ErrAuthentication indicates the feed login was rejected.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTransport indicates the digest could not be dispatched.
	ErrTransport = errors.New("transport failure")

	// ErrNothingToSend indicates no post matched, so no message was built.
	ErrNothingToSend = errors.New("nothing to send")

	// ErrStateNotFound indicates no run has succeeded yet.
	ErrStateNotFound = errors.New("run state not found")

	// ErrStateCorrupt indicates the persisted run state could not be parsed.
	ErrStateCorrupt = errors.New("run state corrupt")
)

// ImageFetchError indicates a single attachment could not be downloaded.
type ImageFetchError struct {
	Err error
	ID  string
	URL string
}

func (e *ImageFetchError) Error() string {
	return fmt.Sprintf("fetch image %s (%s): %v", e.ID, e.URL, e.Err)
}

func (e *ImageFetchError) Unwrap() error {
	return e.Err
}

// IsImageFetchError checks if an error is a per-image download failure.
func IsImageFetchError(err error) bool {
	var imgErr *ImageFetchError
	return errors.As(err, &imgErr)
}
