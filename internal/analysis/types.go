// Package analysis builds and sends submissions to the remote analysis service.
package analysis

import (
	"fmt"
	"strings"

	"github.com/lexiqai/field-assist/internal/media"
)

// Request is one submission: a required image plus optional audio and text.
type Request struct {
	Image *media.Asset
	Audio *media.Asset
	Text  string
}

// TrimmedText returns the text context, or "" when it is whitespace only.
func (r Request) TrimmedText() string {
	return strings.TrimSpace(r.Text)
}

// Result is the payload returned by the analysis service. It is treated as
// immutable once decoded.
type Result struct {
	Observed     []string `json:"observed"`
	LikelyCauses []string `json:"likely_causes"`
	Why          string   `json:"why"`
	Confidence   string   `json:"confidence"`
	Question     string   `json:"question"`
	ImageCaption string   `json:"image_caption"`
	Transcript   string   `json:"transcript,omitempty"`
}

// ValidationError is returned before any network call when the request is
// incomplete.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RemoteError carries a failed round trip. Message is the raw response body
// when the service returned one.
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// MessageImageRequired is reported when a submission has no image.
const MessageImageRequired = "image required"

func newRemoteError(status int, body []byte) *RemoteError {
	msg := string(body)
	if len(body) == 0 {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	return &RemoteError{StatusCode: status, Message: msg}
}
