package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	ffmpegStartupWait = 250 * time.Millisecond
	ffmpegStopGrace   = 1200 * time.Millisecond
)

// FFMPEGMicrophone captures microphone PCM through an ffmpeg subprocess.
type FFMPEGMicrophone struct {
	command string
}

// NewFFMPEGMicrophone creates a microphone backed by the given ffmpeg binary.
func NewFFMPEGMicrophone(command string) *FFMPEGMicrophone {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGMicrophone{command: command}
}

// Open starts ffmpeg. A process that exits before capture starts is treated as
// a refused device and wraps ErrPermissionDenied.
func (m *FFMPEGMicrophone) Open(ctx context.Context, cfg CaptureConfig) (Stream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	// Not CommandContext: the device must outlive the request that opened it.
	cmd := exec.Command(m.command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrPermissionDenied, m.command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = writer.Close()
		waitErr <- err
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = reader.Close()
		detail := stderr.TrimmedString()
		if err != nil {
			return nil, fmt.Errorf("%w: recorder exited before capture started: %v: %s", ErrPermissionDenied, err, detail)
		}
		return nil, fmt.Errorf("%w: recorder exited before capture started", ErrPermissionDenied)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = reader.Close()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(ffmpegStartupWait):
	}

	return &ffmpegStream{
		stdout:  reader,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegStream struct {
	stdout *io.PipeReader
	stderr *syncBuffer

	process *os.Process
	waitErr <-chan error

	stopOnce  sync.Once
	stopErr   error
	closeOnce sync.Once
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop interrupts ffmpeg so it flushes, escalating to kill after a grace period.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(ffmpegStopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			select {
			case err, ok := <-s.waitErr:
				if ok {
					s.stopErr = normalizeStopErr(err)
				}
			case <-time.After(ffmpegStopGrace):
				// Nobody is draining stdout; drop the remainder so Wait can return.
				_ = s.stdout.Close()
				err, ok := <-s.waitErr
				if ok {
					s.stopErr = normalizeStopErr(err)
				}
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, s.stderr.TrimmedString())
		}
	})

	return s.stopErr
}

// Close releases the device. Without a prior Stop the process is killed.
func (s *ffmpegStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		select {
		case <-s.waitErr:
		default:
			if s.process != nil {
				_ = s.process.Kill()
			}
		}
		err = s.stdout.Close()
	})
	return err
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer collects recorder stderr written from the exec copy goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) TrimmedString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
