package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
)

func TestSessionStartStopProducesRecording(t *testing.T) {
	t.Parallel()

	speech := pcmFrame(640, 5000)
	stream := newFakeStream(speech[:600], speech[600:])
	mic := &fakeMicrophone{streams: []*fakeStream{stream}}
	session := NewSession(mic, CaptureConfig{SampleRate: 16000, Channels: 1, ChunkSize: 1024}, nil)

	var mu sync.Mutex
	var seen [][]byte
	session.OnChunk(func(c Chunk) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.Data)
	})

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if session.State() != StateRecording {
		t.Fatalf("expected recording, got %s", session.State())
	}

	rec, err := session.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if session.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", session.State())
	}

	if rec.Asset.Name != RecordingName || rec.Asset.ContentType != RecordingContentType {
		t.Fatalf("unexpected asset metadata: %s %s", rec.Asset.Name, rec.Asset.ContentType)
	}
	if !bytes.Equal(rec.Asset.Data[wavHeaderSize:], speech) {
		t.Fatalf("recording payload does not match captured chunks")
	}
	if !rec.SpeechDetected {
		t.Fatalf("expected speech to be detected")
	}
	if !stream.stopped() || !stream.closed() {
		t.Fatalf("expected stream to be finalized and released")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 chunk notifications, got %d", len(seen))
	}
}

func TestSessionStopWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	session := NewSession(&fakeMicrophone{}, CaptureConfig{}, nil)

	rec, err := session.Stop()
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
	if session.State() != StateIdle {
		t.Fatalf("expected idle, got %s", session.State())
	}
}

func TestSessionPermissionDeniedStaysIdle(t *testing.T) {
	t.Parallel()

	mic := &fakeMicrophone{err: ErrPermissionDenied}
	session := NewSession(mic, CaptureConfig{}, nil)

	err := session.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if session.State() != StateIdle {
		t.Fatalf("expected idle after denial, got %s", session.State())
	}
}

func TestSessionOpenFailureIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("device vanished")
	session := NewSession(&fakeMicrophone{err: boom}, CaptureConfig{}, nil)

	err := session.Start(context.Background())
	if !errors.Is(err, boom) || errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected wrapped device error, got %v", err)
	}
	if session.State() != StateIdle {
		t.Fatalf("expected idle, got %s", session.State())
	}
}

func TestSessionSecondStartRejected(t *testing.T) {
	t.Parallel()

	mic := &fakeMicrophone{streams: []*fakeStream{newFakeStream(pcmFrame(320, 10))}}
	session := NewSession(mic, CaptureConfig{}, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := session.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if mic.opens() != 1 {
		t.Fatalf("second start must not reacquire the device, opens=%d", mic.opens())
	}

	rec, err := session.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rec.SpeechDetected {
		t.Fatalf("expected silent recording")
	}
}

func TestSessionStopWithoutAudio(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	session := NewSession(&fakeMicrophone{streams: []*fakeStream{stream}}, CaptureConfig{}, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := session.Stop()
	if !errors.Is(err, ErrNoAudioCaptured) {
		t.Fatalf("expected ErrNoAudioCaptured, got %v", err)
	}
	if !stream.closed() {
		t.Fatalf("device must be released even when nothing was captured")
	}
}

func TestSessionReleasesDeviceWhenFinalizeFails(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(pcmFrame(320, 5000))
	stream.stopErr = errors.New("flush failed")
	session := NewSession(&fakeMicrophone{streams: []*fakeStream{stream}}, CaptureConfig{}, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec, err := session.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rec == nil || rec.Asset == nil {
		t.Fatalf("expected buffered audio to be kept")
	}
	if !stream.closed() {
		t.Fatalf("expected device release")
	}
}

func TestSessionRestartClearsPreviousChunks(t *testing.T) {
	t.Parallel()

	first := pcmFrame(320, 5000)
	second := pcmFrame(320, 10)
	mic := &fakeMicrophone{streams: []*fakeStream{newFakeStream(first), newFakeStream(second)}}
	session := NewSession(mic, CaptureConfig{}, nil)

	for i, want := range [][]byte{first, second} {
		if err := session.Start(context.Background()); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		rec, err := session.Stop()
		if err != nil {
			t.Fatalf("stop %d failed: %v", i, err)
		}
		if !bytes.Equal(rec.Asset.Data[wavHeaderSize:], want) {
			t.Fatalf("recording %d carried data from a previous session", i)
		}
	}
}

func TestSessionShortLoudRecordingCountsAsSpeech(t *testing.T) {
	t.Parallel()

	// Fewer samples than one VAD frame, so only the whole-recording check sees it.
	mic := &fakeMicrophone{streams: []*fakeStream{newFakeStream(pcmFrame(100, 5000))}}
	session := NewSession(mic, CaptureConfig{SampleRate: 16000, Channels: 1, ChunkSize: 1024}, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec, err := session.Stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !rec.SpeechDetected {
		t.Fatalf("expected a loud sub-frame recording to count as speech")
	}
}

func pcmFrame(samples int, value int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

type fakeMicrophone struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	count   int
}

func (m *fakeMicrophone) Open(_ context.Context, _ CaptureConfig) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.streams) == 0 {
		return nil, errors.New("no fake stream")
	}
	next := m.streams[0]
	m.streams = m.streams[1:]
	return next, nil
}

func (m *fakeMicrophone) opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// fakeStream delivers its chunks, then blocks until Stop like a live device.
type fakeStream struct {
	mu       sync.Mutex
	chunks   [][]byte
	stopCh   chan struct{}
	stopOnce sync.Once
	isStop   bool
	isClosed bool
	stopErr  error
}

func newFakeStream(chunks ...[]byte) *fakeStream {
	return &fakeStream{chunks: chunks, stopCh: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		n := copy(p, chunk)
		if n < len(chunk) {
			s.chunks[0] = chunk[n:]
		} else {
			s.chunks = s.chunks[1:]
		}
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	<-s.stopCh
	return 0, io.EOF
}

func (s *fakeStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isStop = true
	return s.stopErr
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isClosed = true
	return nil
}

func (s *fakeStream) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStop
}

func (s *fakeStream) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}
