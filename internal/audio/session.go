package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/field-assist/internal/media"
	"github.com/lexiqai/field-assist/internal/observability"
)

// Recording is the outcome of a completed capture session.
type Recording struct {
	Asset          *media.Asset
	SpeechDetected bool
	Duration       time.Duration
}

// Session manages one microphone recording at a time. It exclusively owns the
// device stream between Start and Stop.
type Session struct {
	mic    Microphone
	cfg    CaptureConfig
	vadCfg VADConfig
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	stream    Stream
	pumpDone  chan struct{}
	pumpErr   error
	startTime time.Time
	chunks    *ChunkBuffer
	vad       *VADDetector
	listeners []func(Chunk)
}

// NewSession creates an idle capture session.
func NewSession(mic Microphone, cfg CaptureConfig, vadCfg *VADConfig) *Session {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if vadCfg == nil {
		vadCfg = DefaultVADConfig()
	}
	return &Session{
		mic:    mic,
		cfg:    cfg,
		vadCfg: *vadCfg,
		logger: observability.Component("capture"),
		state:  StateIdle,
		chunks: NewChunkBuffer(),
	}
}

// OnChunk registers a listener for captured chunks. Listeners run on the
// capture goroutine and must not call back into the session.
func (s *Session) OnChunk(listener func(Chunk)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the microphone and begins buffering. ctx bounds only the
// acquisition; the stream lives until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRecording {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	// Held through acquisition so a concurrent Start observes Recording.
	s.state = StateRecording
	s.mu.Unlock()

	stream, err := s.mic.Open(ctx, s.cfg)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()

		if errors.Is(err, ErrPermissionDenied) {
			observability.RecordCaptureOutcome("denied")
			s.logger.Warn().Err(err).Msg("microphone access denied")
			return err
		}
		observability.RecordCaptureOutcome("failed")
		observability.RecordError("open_failed", "capture")
		s.logger.Error().Err(err).Msg("failed to open microphone")
		return fmt.Errorf("open microphone: %w", err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.chunks.Clear()
	s.vad = NewVADDetector(&s.vadCfg)
	s.stream = stream
	s.pumpDone = done
	s.pumpErr = nil
	s.startTime = time.Now()
	listeners := append([]func(Chunk){}, s.listeners...)
	vad := s.vad
	s.mu.Unlock()

	go s.pump(stream, vad, listeners, done)

	observability.RecordCaptureOutcome("started")
	observability.SetRecording(true)
	s.logger.Info().
		Int("sample_rate", s.cfg.SampleRate).
		Int("channels", s.cfg.Channels).
		Msg("recording started")
	return nil
}

// Stop finalizes the stream, releases the device, and returns the recording.
// Stopping an idle session is a no-op that returns (nil, nil).
func (s *Session) Stop() (*Recording, error) {
	s.mu.Lock()
	if s.state != StateRecording || s.stream == nil {
		s.mu.Unlock()
		return nil, nil
	}
	stream := s.stream
	done := s.pumpDone
	startTime := s.startTime
	s.stream = nil
	s.mu.Unlock()

	finalizeErr := stream.Stop()
	<-done
	closeErr := stream.Close()

	s.mu.Lock()
	s.state = StateIdle
	pumpErr := s.pumpErr
	vad := s.vad
	empty := s.chunks.IsEmpty()
	chunkCount := s.chunks.Chunks()
	pcm := s.chunks.Bytes()
	s.chunks.Clear()
	s.mu.Unlock()

	observability.SetRecording(false)

	if finalizeErr != nil {
		s.logger.Warn().Err(finalizeErr).Msg("capture did not finalize cleanly")
	}
	if closeErr != nil {
		s.logger.Warn().Err(closeErr).Msg("failed to release capture device")
	}
	if pumpErr != nil {
		s.logger.Warn().Err(pumpErr).Msg("capture stream ended with error")
	}

	duration := time.Since(startTime)
	if empty {
		observability.RecordCaptureOutcome("empty")
		return nil, ErrNoAudioCaptured
	}

	wav, err := EncodeWAV(pcm, s.cfg.SampleRate, s.cfg.Channels)
	if err != nil {
		observability.RecordCaptureOutcome("empty")
		return nil, fmt.Errorf("%w: %v", ErrNoAudioCaptured, err)
	}
	asset, err := media.NewAsset(media.KindAudio, RecordingName, RecordingContentType, wav)
	if err != nil {
		return nil, err
	}

	// Trailing samples shorter than a VAD frame are judged on the whole recording.
	speech := vad.HeardSpeech() || !DetectSilence(BytesToSamples(pcm), s.vadCfg.EnergyThreshold)

	observability.RecordCaptureOutcome("completed")
	s.logger.Info().
		Int("bytes", len(pcm)).
		Int("chunks", chunkCount).
		Dur("duration", duration).
		Bool("speech", speech).
		Msg("recording finalized")

	return &Recording{
		Asset:          asset,
		SpeechDetected: speech,
		Duration:       duration,
	}, nil
}

func (s *Session) pump(stream Stream, vad *VADDetector, listeners []func(Chunk), done chan struct{}) {
	defer close(done)

	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			data := buf[:n]
			s.chunks.Append(data)
			observability.RecordCapturedBytes(n)

			samples := BytesToSamples(data)
			chunk := Chunk{
				Data:   append([]byte(nil), data...),
				Level:  CalculateRMS(samples),
				Speech: vad.ProcessSamples(samples),
			}
			for _, listener := range listeners {
				listener(chunk)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.pumpErr = err
				s.mu.Unlock()
				observability.RecordError("stream_read", "capture")
			}
			return
		}
	}
}
