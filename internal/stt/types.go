// Package stt streams captured audio to a speech-to-text service to show a
// live caption while recording.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrStreamInactive is returned by Send while the stream is disconnected.
var ErrStreamInactive = errors.New("caption stream is not active")

// Caption is the running caption of the current recording.
type Caption struct {
	// Text is all final segments plus the latest interim segment.
	Text string

	// Final is true when Text ends on a final segment.
	Final bool
}

// Captioner opens caption streams.
type Captioner interface {
	// Open starts a stream. onCaption is called from the stream's own
	// goroutine every time the caption text changes.
	Open(ctx context.Context, onCaption func(Caption)) (CaptionStream, error)
}

// CaptionStream receives PCM chunks for one recording.
type CaptionStream interface {
	// Send forwards a PCM chunk. Chunks sent while disconnected are dropped.
	Send(pcm []byte) error

	// Close finishes the stream and stops reconnection attempts.
	Close() error
}

// Transcript assembles final and interim segments into one caption.
type Transcript struct {
	finals  []string
	interim string
}

// Apply folds one segment in and returns the updated caption.
func (t *Transcript) Apply(text string, final bool) Caption {
	text = strings.TrimSpace(text)
	if final {
		if text != "" {
			t.finals = append(t.finals, text)
		}
		t.interim = ""
	} else {
		t.interim = text
	}
	return t.Caption()
}

// Caption returns the current caption without changing it.
func (t *Transcript) Caption() Caption {
	parts := append([]string{}, t.finals...)
	if t.interim != "" {
		parts = append(parts, t.interim)
	}
	return Caption{
		Text:  strings.Join(parts, " "),
		Final: t.interim == "",
	}
}
