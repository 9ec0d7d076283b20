package console

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/field-assist/internal/analysis"
	"github.com/lexiqai/field-assist/internal/audio"
	"github.com/lexiqai/field-assist/internal/view"
)

type stubRecorder struct {
	mu        sync.Mutex
	recording bool
	startErr  error
}

func (r *stubRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if r.recording {
		return audio.ErrAlreadyRecording
	}
	r.recording = true
	return nil
}

func (r *stubRecorder) Stop() (*audio.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, nil
	}
	r.recording = false
	return nil, audio.ErrNoAudioCaptured
}

func (r *stubRecorder) OnChunk(func(audio.Chunk)) {}

// newConsole wires a console to an analysis service implemented by backend.
func newConsole(t *testing.T, backend http.HandlerFunc, recorder view.Recorder) (*httptest.Server, *view.Controller) {
	t.Helper()

	service := httptest.NewServer(backend)
	t.Cleanup(service.Close)

	if recorder == nil {
		recorder = &stubRecorder{}
	}
	controller := view.NewController(analysis.NewClient(service.URL, service.Client()), recorder, nil, nil)

	mux := http.NewServeMux()
	NewServer(context.Background(), controller).Routes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, controller
}

func uploadFile(t *testing.T, url, name, contentType string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + name + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	writer.Close()

	resp, err := http.Post(url, writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) view.Snapshot {
	t.Helper()
	defer resp.Body.Close()
	var snap view.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	defer resp.Body.Close()
	var out errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return out
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestStateEndpoint(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	resp, err := http.Get(server.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	snap := decodeSnapshot(t, resp)
	if snap.Screen != view.ScreenForm || snap.Loading {
		t.Fatalf("unexpected initial state %+v", snap)
	}
}

func TestUploadImageAndServePreview(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	resp := uploadFile(t, server.URL+"/api/image", "photo.jpg", "image/jpeg", []byte("jpegbytes"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	snap := decodeSnapshot(t, resp)
	if snap.Image == nil || snap.Image.Name != "photo.jpg" || snap.Image.PreviewURL == "" {
		t.Fatalf("unexpected image summary %+v", snap.Image)
	}

	preview, err := http.Get(server.URL + snap.Image.PreviewURL)
	if err != nil {
		t.Fatalf("GET preview failed: %v", err)
	}
	defer preview.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(preview.Body)
	if preview.StatusCode != http.StatusOK || buf.String() != "jpegbytes" {
		t.Fatalf("unexpected preview %d %q", preview.StatusCode, buf.String())
	}
	if ct := preview.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("preview content type = %q", ct)
	}

	post(t, server.URL+"/api/reset").Body.Close()

	gone, err := http.Get(server.URL + snap.Image.PreviewURL)
	if err != nil {
		t.Fatalf("GET preview failed: %v", err)
	}
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("released preview should 404, got %d", gone.StatusCode)
	}
}

func TestUploadEmptyFileRejected(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	resp := uploadFile(t, server.URL+"/api/audio", "empty.wav", "audio/wav", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEditTextInvalidJSON(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/text", strings.NewReader("{"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitWithoutImage(t *testing.T) {
	var hits int
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) { hits++ }, nil)

	out := decodeError(t, post(t, server.URL+"/api/submit"))
	if out.Error != "image required" || out.State.Error != "image required" {
		t.Fatalf("unexpected response %+v", out)
	}
	if hits != 0 {
		t.Fatalf("expected no call to the analysis service")
	}
}

func TestSubmitRemoteFailure(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model overloaded"))
	}, nil)

	uploadFile(t, server.URL+"/api/image", "photo.jpg", "image/jpeg", []byte{1}).Body.Close()

	resp := post(t, server.URL+"/api/submit")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	out := decodeError(t, resp)
	if out.State.Error != "model overloaded" || out.State.Loading || out.State.Screen != view.ScreenForm {
		t.Fatalf("unexpected state %+v", out.State)
	}
}

func TestSubmitSuccessThenEditConflicts(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observed":["puddle"],"likely_causes":[],"why":"rain","confidence":"High","question":"when?","image_caption":"a street"}`))
	}, nil)

	uploadFile(t, server.URL+"/api/image", "photo.jpg", "image/jpeg", []byte{1}).Body.Close()

	snap := decodeSnapshot(t, post(t, server.URL+"/api/submit"))
	if snap.Screen != view.ScreenResult || snap.Result == nil || snap.Result.ConfidencePercent != 80 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/text", strings.NewReader(`{"text":"more"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRecordingEndpoints(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, &stubRecorder{})

	snap := decodeSnapshot(t, post(t, server.URL+"/api/recording/start"))
	if !snap.Recording {
		t.Fatalf("expected recording")
	}

	resp := post(t, server.URL+"/api/recording/start")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", resp.StatusCode)
	}

	snap = decodeSnapshot(t, post(t, server.URL+"/api/recording/stop"))
	if snap.Recording || snap.Advisory == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPermissionDeniedIsAdvisory(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, &stubRecorder{startErr: audio.ErrPermissionDenied})

	resp := post(t, server.URL+"/api/recording/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	snap := decodeSnapshot(t, resp)
	if snap.Recording || snap.Advisory != view.AdvisoryPermissionDenied {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestWebSocketPushesState(t *testing.T) {
	server, _ := newConsole(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first ServerMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if first.Type != "state" || first.State == nil || first.State.Screen != view.ScreenForm {
		t.Fatalf("unexpected initial message %+v", first)
	}

	if err := conn.WriteJSON(ClientMessage{Event: "text", Text: "dripping tap"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg.Type == "state" && msg.State.Text == "dripping tap" {
			break
		}
	}

	if err := conn.WriteJSON(ClientMessage{Event: "bogus"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if msg.Type == "error" {
			if !strings.Contains(msg.Error, "bogus") {
				t.Fatalf("unexpected error %q", msg.Error)
			}
			break
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{view.ErrNotInForm, http.StatusConflict},
		{view.ErrSubmissionInFlight, http.StatusConflict},
		{audio.ErrAlreadyRecording, http.StatusConflict},
		{&analysis.ValidationError{Message: "image required"}, http.StatusUnprocessableEntity},
		{&analysis.RemoteError{Message: "boom"}, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
