package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/field-assist/internal/observability"
	"github.com/lexiqai/field-assist/internal/resilience"
)

// messageCallbackHandler embeds the default handler and overrides only the
// methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramConfig holds the settings for live captions.
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Channels   int
	Reconnect  *resilience.ReconnectConfig

	// Consecutive connect failures before Open fails fast, and how long it does.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// liveClient is the part of the Deepgram websocket client a stream uses.
// WSCallback.Finish is a no-op; Stop closes the socket and its goroutines.
type liveClient interface {
	Write(p []byte) (int, error)
	Stop()
}

// dialFunc connects one websocket for s. gen identifies the connection in
// callbacks.
type dialFunc func(s *deepgramStream, gen uint64) (liveClient, error)

// DeepgramCaptioner implements Captioner using Deepgram's streaming API
type DeepgramCaptioner struct {
	config  DeepgramConfig
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker
	dial    dialFunc
}

// NewDeepgramCaptioner creates a captioner. The audio format must match the
// PCM produced by the capture session (signed 16-bit little endian).
func NewDeepgramCaptioner(cfg DeepgramConfig) *DeepgramCaptioner {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 3
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = 30 * time.Second
	}
	return &DeepgramCaptioner{
		config:  cfg,
		logger:  observability.Component("captions"),
		breaker: resilience.NewCircuitBreaker("deepgram", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout),
		dial:    dialDeepgram,
	}
}

// Open connects a new streaming session for one recording. While Deepgram
// keeps failing, Open returns resilience.ErrCircuitOpen without dialing.
func (d *DeepgramCaptioner) Open(ctx context.Context, onCaption func(Caption)) (CaptionStream, error) {
	if d.config.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is not configured")
	}

	// The stream outlives the request that opened it; Close ends it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := &deepgramStream{
		config:    d.config,
		logger:    d.logger,
		ctx:       streamCtx,
		cancel:    cancel,
		onCaption: onCaption,
		breaker:   d.breaker,
		dial:      d.dial,
	}

	if err := stream.connect(); err != nil {
		cancel()
		observability.RecordError("connect_failed", "captions")
		return nil, err
	}
	return stream, nil
}

type deepgramStream struct {
	config    DeepgramConfig
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	onCaption func(Caption)
	breaker   *resilience.CircuitBreaker
	dial      dialFunc

	mu           sync.Mutex
	client       liveClient
	generation   uint64
	isActive     bool
	reconnecting bool
	transcript   Transcript
}

// dialDeepgram establishes the Deepgram websocket
func dialDeepgram(s *deepgramStream, gen uint64) (liveClient, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.config.Model,
		Language:       s.config.Language,
		Punctuate:      true,
		InterimResults: true,
		Encoding:       "linear16",
		Channels:       s.config.Channels,
		SampleRate:     s.config.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                s.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			return s.handleError(gen, errorResponse)
		},
	}

	client, err := listenClient.NewWSUsingCallback(s.ctx, s.config.APIKey, nil, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		client.Stop()
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	return client, nil
}

// connect dials through the breaker and installs the new client. Only one
// connect runs at a time per stream.
func (s *deepgramStream) connect() error {
	s.mu.Lock()
	gen := s.generation + 1
	s.mu.Unlock()

	var client liveClient
	err := s.breaker.Call(func() error {
		c, err := s.dial(s, gen)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.install(client, gen); err != nil {
		return err
	}

	s.logger.Info().
		Str("model", s.config.Model).
		Str("language", s.config.Language).
		Uint64("generation", gen).
		Msg("caption stream connected")
	return nil
}

// install makes client current and stops the one it replaces.
func (s *deepgramStream) install(client liveClient, gen uint64) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		client.Stop()
		return s.ctx.Err()
	}
	previous := s.client
	s.client = client
	s.generation = gen
	s.isActive = true
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	return nil
}

func (s *deepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	text, final, ok := segmentFromMessage(msg)
	if !ok {
		return
	}

	s.mu.Lock()
	caption := s.transcript.Apply(text, final)
	s.mu.Unlock()

	if s.onCaption != nil {
		s.onCaption(caption)
	}
}

func (s *deepgramStream) handleError(gen uint64, errorResponse *msginterfaces.ErrorResponse) error {
	select {
	case <-s.ctx.Done():
		return nil
	default:
	}

	s.mu.Lock()
	if gen != s.generation {
		// A replaced connection reporting its own shutdown.
		s.mu.Unlock()
		return nil
	}
	s.isActive = false
	start := !s.reconnecting
	s.reconnecting = true
	s.mu.Unlock()

	s.logger.Warn().Interface("error", errorResponse).Msg("caption stream error")
	observability.RecordError("stream_error", "captions")

	if start {
		go s.attemptReconnect()
	}
	return nil
}

func (s *deepgramStream) attemptReconnect() {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	err := resilience.Reconnect(s.ctx, "captions", func(ctx context.Context) error {
		return s.connect()
	}, s.config.Reconnect)
	if err != nil {
		s.logger.Warn().Err(err).Msg("caption stream not recovered")
	}
}

// Send forwards audio to Deepgram. Audio sent while disconnected is dropped.
func (s *deepgramStream) Send(pcm []byte) error {
	s.mu.Lock()
	active := s.isActive
	client := s.client
	s.mu.Unlock()

	if !active || client == nil {
		return ErrStreamInactive
	}
	if _, err := client.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// Close finishes the Deepgram session and stops any reconnection attempt.
func (s *deepgramStream) Close() error {
	s.cancel()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.isActive = false
	s.mu.Unlock()

	if client != nil {
		client.Stop()
	}
	s.logger.Debug().Msg("caption stream closed")
	return nil
}

// segmentFromMessage extracts the best transcript of a results message.
func segmentFromMessage(msg *msginterfaces.MessageResponse) (string, bool, bool) {
	if msg == nil {
		return "", false, false
	}
	switch msg.Type {
	case "Results", "Message", "":
	default:
		return "", false, false
	}
	if len(msg.Channel.Alternatives) == 0 {
		return "", false, false
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" && !msg.IsFinal {
		return "", false, false
	}
	return alt.Transcript, msg.IsFinal, true
}
