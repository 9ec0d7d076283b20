// Package console exposes the view controller to a local browser console over
// HTTP and WebSocket.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lexiqai/field-assist/internal/analysis"
	"github.com/lexiqai/field-assist/internal/audio"
	"github.com/lexiqai/field-assist/internal/media"
	"github.com/lexiqai/field-assist/internal/observability"
	"github.com/lexiqai/field-assist/internal/view"
)

// DefaultMaxUploadBytes bounds a single picked file.
const DefaultMaxUploadBytes = 32 << 20

// Server serves the console API for one controller.
type Server struct {
	controller *view.Controller
	logger     zerolog.Logger
	maxUpload  int64

	// Submissions and recordings outlive the request that triggered them and
	// end with this context.
	baseCtx context.Context
}

// NewServer creates the console API. baseCtx bounds submissions and
// microphone acquisition.
func NewServer(baseCtx context.Context, controller *view.Controller) *Server {
	return &Server{
		controller: controller,
		logger:     observability.Component("console"),
		maxUpload:  DefaultMaxUploadBytes,
		baseCtx:    baseCtx,
	}
}

// Routes registers the console endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/image", s.handleUpload(media.KindImage))
	mux.HandleFunc("POST /api/audio", s.handleUpload(media.KindAudio))
	mux.HandleFunc("PUT /api/text", s.handleText)
	mux.HandleFunc("POST /api/recording/start", s.handleStartRecording)
	mux.HandleFunc("POST /api/recording/stop", s.handleStopRecording)
	mux.HandleFunc("POST /api/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET "+media.PreviewPathPrefix+"{id}", s.handlePreview)
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
}

type textRequest struct {
	Text string `json:"text"`
}

// errorResponse carries the failure and the state it left behind.
type errorResponse struct {
	Error string        `json:"error"`
	State view.Snapshot `json:"state"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleUpload(kind media.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing file: %w", err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
			return
		}

		asset, err := media.NewAsset(kind, header.Filename, header.Header.Get("Content-Type"), data)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		var snap view.Snapshot
		if kind == media.KindImage {
			snap, err = s.controller.SelectImage(asset)
		} else {
			snap, err = s.controller.SelectAudio(asset)
		}
		if err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}

		s.logger.Debug().
			Str("kind", string(kind)).
			Str("name", asset.Name).
			Int("size", asset.Size()).
			Msg("asset selected")
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	s.respond(w)(s.controller.EditText(req.Text))
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.controller.StartRecording(s.baseCtx))
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.controller.StopRecording())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.controller.Submit(s.baseCtx))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Reset())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.controller.Preview(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(asset.Size()))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(asset.Data)
}

// respond writes the snapshot, or the error with the snapshot it left.
func (s *Server) respond(w http.ResponseWriter) func(view.Snapshot, error) {
	return func(snap view.Snapshot, err error) {
		if err != nil {
			writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), State: snap})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("console request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), State: s.controller.Snapshot()})
}

// statusFor maps controller and submission errors to HTTP status codes.
func statusFor(err error) int {
	var validation *analysis.ValidationError
	var remote *analysis.RemoteError

	switch {
	case errors.Is(err, view.ErrNotInForm),
		errors.Is(err, view.ErrSubmissionInFlight),
		errors.Is(err, view.ErrRecordingActive),
		errors.Is(err, audio.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, media.ErrEmptyAsset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.RecordError("encode", "console")
	}
}
