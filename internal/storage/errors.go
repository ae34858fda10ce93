package storage

import (
	"context"
	"errors"
)

var (
	// ErrDependencyUnavailable means the provider client cannot be used at all in this deployment.
	ErrDependencyUnavailable = errors.New("provider client unavailable")
	// ErrAuthenticationFailed means the provider rejected the credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrConnectionFailed means the provider could not be reached.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrFolderResolutionFailed is non-fatal; callers fall back to the provider root.
	ErrFolderResolutionFailed = errors.New("folder resolution failed")
	// ErrUploadTimeout means the transfer did not finish within the upload timeout.
	ErrUploadTimeout = errors.New("upload timed out")
	// ErrTransfer is a provider-reported failure during transfer.
	ErrTransfer = errors.New("transfer failed")
	// ErrDelete is a failure to remove one remote file.
	ErrDelete = errors.New("delete failed")
	// ErrInvalidConfig marks destination settings rejected before any I/O.
	ErrInvalidConfig = errors.New("invalid destination config")
)

// KindOf maps an adapter error to the name recorded in results.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDependencyUnavailable):
		return "DependencyUnavailable"
	case errors.Is(err, ErrAuthenticationFailed):
		return "AuthenticationFailed"
	case errors.Is(err, ErrConnectionFailed):
		return "ConnectionFailed"
	case errors.Is(err, ErrFolderResolutionFailed):
		return "FolderResolutionFailed"
	case errors.Is(err, ErrUploadTimeout):
		return "UploadTimeout"
	case errors.Is(err, ErrDelete):
		return "DeleteError"
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return "TransferError"
	}
}
