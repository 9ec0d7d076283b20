package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFFMPEGMicrophoneOpenReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nexec sleep 5\n")
	mic := NewFFMPEGMicrophone(script)

	stream, err := mic.Open(context.Background(), CaptureConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := stream.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if _, err := stream.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stop, got %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestFFMPEGMicrophoneEarlyExitIsPermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'device busy' 1>&2\nexit 1\n")
	mic := NewFFMPEGMicrophone(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := mic.Open(ctx, CaptureConfig{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}
}

func TestFFMPEGMicrophoneMissingBinary(t *testing.T) {
	t.Parallel()

	mic := NewFFMPEGMicrophone(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	_, err := mic.Open(context.Background(), CaptureConfig{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestFFMPEGMicrophoneCloseWithoutStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "idle.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	mic := NewFFMPEGMicrophone(script)

	stream, err := mic.Open(context.Background(), CaptureConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := stream.Read(make([]byte, 4)); err == nil {
		t.Fatalf("expected read error after close")
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
