package viewer

import (
	"github.com/odvcencio/scormview/pkg/errors"
)

// ErrorView is the failure payload shown to the host page. It keeps the
// technical message next to the user summary.
type ErrorView struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	UserMessage string   `json:"user_message"`
	Retryable   bool     `json:"retryable"`
	Remediation []string `json:"remediation,omitempty"`
	DownloadURL string   `json:"download_url,omitempty"`
}

// ViewState is the host-facing snapshot of a session.
type ViewState struct {
	SessionID        string     `json:"session_id"`
	Title            string     `json:"title,omitempty"`
	Stage            Stage      `json:"stage"`
	DownloadProgress int        `json:"download_progress"`
	ExtractProgress  int        `json:"extract_progress"`
	EntryURL         string     `json:"entry_url,omitempty"`
	EntryPath        string     `json:"entry_path,omitempty"`
	EntryTier        string     `json:"entry_tier,omitempty"`
	Version          string     `json:"version,omitempty"`
	Files            int        `json:"files,omitempty"`
	Error            *ErrorView `json:"error,omitempty"`
	BlankScreen      bool       `json:"blank_screen"`
	BlankReason      string     `json:"blank_reason,omitempty"`
	ShowNavigation   bool       `json:"show_navigation"`
	ShowMenu         bool       `json:"show_menu"`
	Retries          int        `json:"retries"`
	// Reloads changes whenever the host should re-point the surface at
	// EntryURL.
	Reloads     int    `json:"reloads"`
	DownloadURL string `json:"download_url,omitempty"`
}

func newErrorView(err error, downloadURL string) *ErrorView {
	if err == nil {
		return nil
	}
	view := &ErrorView{
		Code:        string(errors.GetCode(err)),
		Message:     err.Error(),
		UserMessage: errors.UserMessage(err),
		Retryable:   errors.IsRetryable(err),
		DownloadURL: downloadURL,
	}
	if e, ok := errors.As(err); ok {
		view.Remediation = e.Remediation
	}
	return view
}
