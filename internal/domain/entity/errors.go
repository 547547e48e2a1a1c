package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingConfiguration means the upstream URL or API token is not set
	ErrMissingConfiguration = errors.New("upstream api url or token is not configured")

	// ErrEmptyResponse means the upstream answered with an empty body
	ErrEmptyResponse = errors.New("upstream returned an empty body")

	// ErrIncorrectData means the upstream body had no usable quotes
	ErrIncorrectData = errors.New("upstream payload has no quotes")
)

// UpstreamError carries the status line of a failed upstream call
type UpstreamError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error %d %s: %v", e.StatusCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("upstream error %d %s", e.StatusCode, e.Reason)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
