package errors

import "fmt"

const downloadTip = "Download the package and open it directly"

// EmptyArchive reports a fetch that succeeded with a zero-length body.
func EmptyArchive(url string) *Error {
	return New(ErrCodeEmptyArchive, "archive download returned no data").
		WithContext("url", url).
		WithRetryable(true).
		WithUserMessage("The package file is empty.").
		WithRemediation("Retry the download", downloadTip)
}

// Transport reports a non-success HTTP status. The response body is never
// inspected.
func Transport(url string, status int) *Error {
	return New(ErrCodeTransportError, fmt.Sprintf("archive download failed with status %d", status)).
		WithContext("url", url).
		WithContext("status", status).
		WithRetryable(true).
		WithUserMessage("The package could not be downloaded.").
		WithRemediation("Retry the download", downloadTip)
}

// TransportFailure wraps a network-level failure.
func TransportFailure(url string, err error) *Error {
	return Wrap(err, ErrCodeTransportError, "archive download failed").
		WithContext("url", url).
		WithRetryable(true).
		WithUserMessage("The package could not be downloaded.").
		WithRemediation("Check your connection and retry", downloadTip)
}

// Timeout reports a fetch that exceeded its hard deadline.
func Timeout(url string, err error) *Error {
	return Wrap(err, ErrCodeTimeout, "archive download timed out").
		WithContext("url", url).
		WithRetryable(true).
		WithUserMessage("The package took too long to download.").
		WithRemediation("Retry the download", downloadTip)
}

// Aborted reports a load that was cancelled by the caller.
func Aborted(stage string, err error) *Error {
	wrapped := Wrap(err, ErrCodeAborted, "load aborted")
	if wrapped == nil {
		wrapped = New(ErrCodeAborted, "load aborted")
	}
	return wrapped.
		WithContext("stage", stage).
		WithRetryable(true).
		WithUserMessage("Loading was cancelled.")
}

// InvalidArchive reports bytes that could not be parsed as a ZIP archive.
func InvalidArchive(err error, detected string) *Error {
	e := Wrap(err, ErrCodeInvalidArchive, "archive could not be read")
	if e == nil {
		e = New(ErrCodeInvalidArchive, "archive contains no entries")
	}
	if detected != "" {
		e.WithContext("detected_type", detected)
	}
	return e.
		WithRetryable(true).
		WithUserMessage("The package file is damaged or is not a ZIP archive.").
		WithRemediation("Retry the download", downloadTip)
}

// NoEntryPoint reports a package with no launchable HTML document.
func NoEntryPoint(fileCount int) *Error {
	return New(ErrCodeNoEntryPoint, "package has no launchable content").
		WithContext("files", fileCount).
		WithRetryable(false).
		WithUserMessage("This package has no launchable content.").
		WithRemediation(downloadTip)
}

// SessionNotFound reports an unknown viewing session id.
func SessionNotFound(id string) *Error {
	return New(ErrCodeSessionNotFound, "session not found").WithContext("session_id", id)
}

// NavigationFailed reports that every navigation strategy was exhausted.
func NavigationFailed(direction string, tried []string) *Error {
	return New(ErrCodeNavigationFailed, "no navigation strategy succeeded").
		WithContext("direction", direction).
		WithContext("tried", tried).
		WithRetryable(true).
		WithUserMessage("The content did not respond to navigation.").
		WithRemediation("Use the navigation controls inside the content")
}

// ContentOffline reports that no content connection answered a command.
func ContentOffline(sessionID string, err error) *Error {
	e := New(ErrCodeContentOffline, "content is not connected").
		WithContext("session_id", sessionID).
		WithRetryable(true)
	e.Underlying = err
	return e
}
