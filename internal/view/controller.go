package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/field-assist/internal/analysis"
	"github.com/lexiqai/field-assist/internal/audio"
	"github.com/lexiqai/field-assist/internal/media"
	"github.com/lexiqai/field-assist/internal/observability"
	"github.com/lexiqai/field-assist/internal/result"
	"github.com/lexiqai/field-assist/internal/stt"
)

// Advisory messages shown on the form.
const (
	AdvisoryPermissionDenied = "Microphone unavailable. You can still attach an audio file."
	AdvisoryNoSpeech         = "No speech was detected in the recording."
	AdvisoryNoAudio          = "Nothing was recorded. Try again or attach an audio file."
)

// Analyzer submits a request to the analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// Recorder is the capture session driven by the controller.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*audio.Recording, error)
	OnChunk(listener func(audio.Chunk))
}

// Controller owns the view state and performs the effects of each event:
// capture, submission, preview handle release and live captions.
type Controller struct {
	analyzer  Analyzer
	recorder  Recorder
	captioner stt.Captioner
	previews  *media.Previews
	logger    zerolog.Logger

	// captureMu serializes recorder Start/Stop. It is never taken while mu is
	// held because chunk listeners take mu from the capture goroutine.
	captureMu sync.Mutex

	mu           sync.Mutex
	state        State
	epoch        uint64
	cancelSubmit context.CancelFunc
	captions     stt.CaptionStream
	subscribers  map[int]chan Snapshot
	nextSub      int
}

// NewController creates a controller on the empty form. captioner may be nil.
func NewController(analyzer Analyzer, recorder Recorder, captioner stt.Captioner, previews *media.Previews) *Controller {
	if previews == nil {
		previews = media.NewPreviews()
	}
	c := &Controller{
		analyzer:    analyzer,
		recorder:    recorder,
		captioner:   captioner,
		previews:    previews,
		logger:      observability.Component("view"),
		state:       Initial(),
		subscribers: make(map[int]chan Snapshot),
	}
	recorder.OnChunk(c.onChunk)
	return c
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Preview resolves a live preview handle id.
func (c *Controller) Preview(id string) (*media.Asset, bool) {
	return c.previews.Lookup(id)
}

// Subscribe returns a channel of snapshots published after every state
// change. Slow subscribers only see the latest snapshot. The returned func
// unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// SelectImage replaces the image asset.
func (c *Controller) SelectImage(asset *media.Asset) (Snapshot, error) {
	return c.apply(ImageSelected{Asset: asset})
}

// SelectAudio replaces the audio asset with a picked file.
func (c *Controller) SelectAudio(asset *media.Asset) (Snapshot, error) {
	return c.apply(AudioSelected{Asset: asset})
}

// EditText replaces the text context.
func (c *Controller) EditText(text string) (Snapshot, error) {
	return c.apply(TextEdited{Text: text})
}

// StartRecording acquires the microphone. A refused microphone is not an
// error for the caller: it becomes an advisory and the form stays usable.
func (c *Controller) StartRecording(ctx context.Context) (Snapshot, error) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	c.mu.Lock()
	screen := c.state.Screen
	c.mu.Unlock()
	if screen != ScreenForm {
		return c.Snapshot(), ErrNotInForm
	}

	if err := c.recorder.Start(ctx); err != nil {
		if errors.Is(err, audio.ErrAlreadyRecording) {
			return c.Snapshot(), err
		}
		c.logger.Warn().Err(err).Msg("microphone unavailable, falling back to file selection")
		return c.apply(PermissionDenied{Message: AdvisoryPermissionDenied})
	}

	snap, err := c.apply(RecordingStarted{})
	if err != nil {
		// The form went away while the device was being acquired.
		if _, stopErr := c.recorder.Stop(); stopErr != nil {
			c.logger.Warn().Err(stopErr).Msg("failed to discard recording")
		}
		observability.RecordCaptureOutcome("discarded")
		return snap, err
	}

	c.openCaptions(ctx)
	return c.Snapshot(), nil
}

// StopRecording finalizes the recording into the audio asset. Stopping while
// idle is a no-op.
func (c *Controller) StopRecording() (Snapshot, error) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	rec, err := c.recorder.Stop()
	c.closeCaptions()

	switch {
	case errors.Is(err, audio.ErrNoAudioCaptured):
		return c.apply(RecordingStopped{Advisory: AdvisoryNoAudio})
	case err != nil:
		c.logger.Error().Err(err).Msg("recording failed")
		return c.apply(RecordingStopped{Advisory: fmt.Sprintf("Recording failed: %v", err)})
	case rec == nil:
		return c.Snapshot(), nil
	}

	advisory := ""
	if !rec.SpeechDetected {
		advisory = AdvisoryNoSpeech
	}
	return c.apply(RecordingStopped{Asset: rec.Asset, Advisory: advisory})
}

// Submit sends the current form to the analysis service. It is rejected
// while another submission is loading. The returned error is the submission
// failure, which is also stored in the state.
func (c *Controller) Submit(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if err := c.transitionLocked(SubmitStarted{}); err != nil {
		snap := c.state.Snapshot()
		c.mu.Unlock()
		observability.RecordSubmissionOutcome("rejected")
		return snap, err
	}
	req := analysis.Request{
		Image: c.state.Image,
		Audio: c.state.Audio,
		Text:  c.state.Text,
	}
	epoch := c.epoch
	submitCtx, cancel := context.WithCancel(ctx)
	c.cancelSubmit = cancel
	c.mu.Unlock()

	res, err := c.analyzer.Analyze(submitCtx, req)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		c.logger.Info().Msg("discarding response for a reset form")
		return c.state.Snapshot(), nil
	}
	c.cancelSubmit = nil

	if err != nil {
		c.logger.Warn().Err(err).Msg("submission failed")
		_ = c.transitionLocked(SubmitFailed{Message: err.Error()})
		return c.state.Snapshot(), err
	}

	_ = c.transitionLocked(SubmitSucceeded{Display: result.Normalize(res)})
	return c.state.Snapshot(), nil
}

// Reset returns to the empty form from any state. A running recording is
// stopped and discarded and a loading submission is abandoned.
func (c *Controller) Reset() Snapshot {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if rec, err := c.recorder.Stop(); err != nil && !errors.Is(err, audio.ErrNoAudioCaptured) {
		c.logger.Warn().Err(err).Msg("recording did not stop cleanly on reset")
	} else if rec != nil {
		observability.RecordCaptureOutcome("discarded")
	}
	c.closeCaptions()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	if c.cancelSubmit != nil {
		c.cancelSubmit()
		c.cancelSubmit = nil
	}
	_ = c.transitionLocked(Reset{})
	return c.state.Snapshot()
}

// Close stops capture and abandons any submission.
func (c *Controller) Close() {
	c.Reset()
}

func (c *Controller) apply(ev Event) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.transitionLocked(ev)
	return c.state.Snapshot(), err
}

// transitionLocked runs Transition and its preview effects. c.mu must be held.
func (c *Controller) transitionLocked(ev Event) error {
	prev := c.state
	next, released, err := Transition(prev, ev)
	if err != nil {
		return err
	}

	for _, handle := range released {
		if err := c.previews.Release(handle); err != nil {
			c.logger.Error().Err(err).Str("handle", handle.ID).Msg("failed to release preview")
		}
	}
	if next.Image != nil && next.Image != prev.Image && next.Image.Preview.IsZero() {
		c.previews.Allocate(next.Image)
	}
	if next.Audio != nil && next.Audio != prev.Audio && next.Audio.Preview.IsZero() {
		c.previews.Allocate(next.Audio)
	}

	next.Version = prev.Version + 1
	c.state = next
	c.broadcastLocked(next.Snapshot())
	return nil
}

func (c *Controller) broadcastLocked(snap Snapshot) {
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest so the latest state is delivered.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) onChunk(chunk audio.Chunk) {
	c.mu.Lock()
	if !c.state.Recording {
		c.mu.Unlock()
		return
	}
	_ = c.transitionLocked(LevelUpdated{Level: chunk.Level})
	captions := c.captions
	c.mu.Unlock()

	if captions == nil {
		return
	}
	if err := captions.Send(chunk.Data); err != nil && !errors.Is(err, stt.ErrStreamInactive) {
		c.logger.Debug().Err(err).Msg("failed to forward audio to captions")
	}
}

func (c *Controller) onCaption(caption stt.Caption) {
	_, _ = c.apply(CaptionUpdated{Text: caption.Text})
}

func (c *Controller) openCaptions(ctx context.Context) {
	if c.captioner == nil {
		return
	}
	stream, err := c.captioner.Open(ctx, c.onCaption)
	if err != nil {
		c.logger.Warn().Err(err).Msg("live captions unavailable")
		return
	}
	c.mu.Lock()
	c.captions = stream
	c.mu.Unlock()
}

func (c *Controller) closeCaptions() {
	c.mu.Lock()
	captions := c.captions
	c.captions = nil
	c.mu.Unlock()

	if captions != nil {
		if err := captions.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close caption stream")
		}
	}
}
