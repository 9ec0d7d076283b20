// Package view holds the interaction state machine: which screen is shown,
// the entered form fields, and the submission lifecycle.
package view

import (
	"errors"

	"github.com/lexiqai/field-assist/internal/media"
	"github.com/lexiqai/field-assist/internal/result"
)

var (
	// ErrNotInForm is returned for field edits and submits outside the form.
	ErrNotInForm = errors.New("form is not active")

	// ErrSubmissionInFlight is returned for a submit while one is loading.
	ErrSubmissionInFlight = errors.New("submission already in flight")

	// ErrRecordingActive is returned for a submit while the microphone is
	// recording.
	ErrRecordingActive = errors.New("stop recording before submitting")
)

// Screen is the active view.
type Screen string

const (
	ScreenForm   Screen = "form"
	ScreenResult Screen = "result"
)

// State is the complete interaction state. It is a value; Transition returns
// a new one.
type State struct {
	Screen   Screen
	Loading  bool
	Error    string
	Advisory string

	Image *media.Asset
	Audio *media.Asset
	Text  string

	Recording bool
	Level     float64
	Caption   string

	Result *result.Display

	Version uint64
}

// Initial returns the empty form.
func Initial() State {
	return State{Screen: ScreenForm}
}

// Event is an input to Transition.
type Event interface {
	event()
}

type (
	// ImageSelected replaces the image asset.
	ImageSelected struct{ Asset *media.Asset }

	// AudioSelected replaces the audio asset with a picked file.
	AudioSelected struct{ Asset *media.Asset }

	// TextEdited replaces the free-text context.
	TextEdited struct{ Text string }

	// RecordingStarted marks the capture session as recording.
	RecordingStarted struct{}

	// RecordingStopped ends recording. A nil Asset keeps the current audio.
	RecordingStopped struct {
		Asset    *media.Asset
		Advisory string
	}

	// PermissionDenied reports that the microphone could not be acquired.
	PermissionDenied struct{ Message string }

	// SubmitStarted raises the loading flag.
	SubmitStarted struct{}

	// SubmitSucceeded shows the result screen.
	SubmitSucceeded struct{ Display result.Display }

	// SubmitFailed returns to the form with an error message.
	SubmitFailed struct{ Message string }

	// Reset clears everything back to the empty form.
	Reset struct{}

	// CaptionUpdated replaces the live caption while recording.
	CaptionUpdated struct{ Text string }

	// LevelUpdated reports the input level while recording.
	LevelUpdated struct{ Level float64 }
)

func (ImageSelected) event()    {}
func (AudioSelected) event()    {}
func (TextEdited) event()       {}
func (RecordingStarted) event() {}
func (RecordingStopped) event() {}
func (PermissionDenied) event() {}
func (SubmitStarted) event()    {}
func (SubmitSucceeded) event()  {}
func (SubmitFailed) event()     {}
func (Reset) event()            {}
func (CaptionUpdated) event()   {}
func (LevelUpdated) event()     {}

// Transition applies ev to s. It returns the next state and the preview
// handles that were dropped and must be released by the caller. On error the
// returned state equals s and nothing is released.
func Transition(s State, ev Event) (State, []media.Handle, error) {
	next := s
	var released []media.Handle

	switch e := ev.(type) {
	case ImageSelected:
		if s.Screen != ScreenForm {
			return s, nil, ErrNotInForm
		}
		released = appendHandle(released, s.Image, e.Asset)
		next.Image = e.Asset
		next.Error = ""

	case AudioSelected:
		if s.Screen != ScreenForm {
			return s, nil, ErrNotInForm
		}
		released = appendHandle(released, s.Audio, e.Asset)
		next.Audio = e.Asset
		next.Error = ""
		next.Advisory = ""

	case TextEdited:
		if s.Screen != ScreenForm {
			return s, nil, ErrNotInForm
		}
		next.Text = e.Text
		next.Error = ""

	case RecordingStarted:
		if s.Screen != ScreenForm {
			return s, nil, ErrNotInForm
		}
		next.Recording = true
		next.Level = 0
		next.Caption = ""
		next.Error = ""
		next.Advisory = ""

	case RecordingStopped:
		if !s.Recording {
			return s, nil, nil
		}
		next.Recording = false
		next.Level = 0
		next.Advisory = e.Advisory
		if e.Asset != nil && s.Screen == ScreenForm {
			released = appendHandle(released, s.Audio, e.Asset)
			next.Audio = e.Asset
		}

	case PermissionDenied:
		next.Recording = false
		next.Level = 0
		next.Advisory = e.Message

	case SubmitStarted:
		if s.Screen != ScreenForm {
			return s, nil, ErrNotInForm
		}
		if s.Loading {
			return s, nil, ErrSubmissionInFlight
		}
		if s.Recording {
			return s, nil, ErrRecordingActive
		}
		next.Loading = true
		next.Error = ""

	case SubmitSucceeded:
		if !s.Loading {
			return s, nil, nil
		}
		display := e.Display
		next.Loading = false
		next.Screen = ScreenResult
		next.Result = &display
		next.Error = ""

	case SubmitFailed:
		if !s.Loading {
			return s, nil, nil
		}
		next.Loading = false
		next.Error = e.Message

	case Reset:
		released = appendHandle(released, s.Image, nil)
		released = appendHandle(released, s.Audio, nil)
		next = Initial()
		next.Version = s.Version

	case CaptionUpdated:
		if !s.Recording {
			return s, nil, nil
		}
		next.Caption = e.Text

	case LevelUpdated:
		if !s.Recording {
			return s, nil, nil
		}
		next.Level = e.Level
	}

	return next, released, nil
}

// appendHandle records the preview of old when it is being replaced.
func appendHandle(handles []media.Handle, old, replacement *media.Asset) []media.Handle {
	if old == nil || old == replacement || old.Preview.IsZero() {
		return handles
	}
	return append(handles, old.Preview)
}

// Snapshot is the serializable view of a State.
type Snapshot struct {
	Screen    Screen          `json:"screen"`
	Loading   bool            `json:"loading"`
	Error     string          `json:"error,omitempty"`
	Advisory  string          `json:"advisory,omitempty"`
	Image     *media.Summary  `json:"image,omitempty"`
	Audio     *media.Summary  `json:"audio,omitempty"`
	Text      string          `json:"text"`
	Recording bool            `json:"recording"`
	Level     float64         `json:"level"`
	Caption   string          `json:"caption,omitempty"`
	Result    *result.Display `json:"result,omitempty"`
	Version   uint64          `json:"version"`
}

// Snapshot returns the serializable view of s.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Screen:    s.Screen,
		Loading:   s.Loading,
		Error:     s.Error,
		Advisory:  s.Advisory,
		Image:     s.Image.Summarize(),
		Audio:     s.Audio.Summarize(),
		Text:      s.Text,
		Recording: s.Recording,
		Level:     s.Level,
		Caption:   s.Caption,
		Result:    s.Result,
		Version:   s.Version,
	}
}
