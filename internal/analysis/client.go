package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/field-assist/internal/media"
	"github.com/lexiqai/field-assist/internal/observability"
)

// AnalyzePath is appended to the configured base URL.
const AnalyzePath = "/analyze"

// Client sends submissions to the analysis service. It makes a single attempt
// per call and applies no timeout of its own.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client for the service at baseURL. A nil httpClient
// uses a client without a timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  observability.Component("analysis"),
	}
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Analyze validates the request, posts it as multipart form data and decodes
// the result. A missing image fails with *ValidationError without touching the
// network; every other failure is a *RemoteError.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.Image == nil || req.Image.Size() == 0 {
		observability.RecordSubmissionOutcome("validation_error")
		return nil, &ValidationError{Message: MessageImageRequired}
	}

	logger := observability.WithCorrelationID(c.logger, observability.NewCorrelationID())

	body, contentType, err := buildMultipart(req)
	if err != nil {
		observability.RecordSubmissionOutcome("build_error")
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AnalyzePath, body)
	if err != nil {
		observability.RecordSubmissionOutcome("build_error")
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	logger.Info().
		Int("image_bytes", req.Image.Size()).
		Bool("audio", req.Audio != nil).
		Bool("text", req.TrimmedText() != "").
		Msg("submitting analysis request")

	metrics := observability.StartSubmission()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.End("transport_error")
		observability.RecordError("transport", "analysis")
		logger.Error().Err(err).Msg("analysis request failed")
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.End("transport_error")
		observability.RecordError("read_body", "analysis")
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.End("remote_error")
		logger.Warn().
			Int("status", resp.StatusCode).
			Int("body_bytes", len(payload)).
			Msg("analysis service rejected request")
		return nil, newRemoteError(resp.StatusCode, payload)
	}

	result, err := decodeResult(payload)
	if err != nil {
		metrics.End("malformed_response")
		observability.RecordError("decode", "analysis")
		logger.Error().Err(err).Msg("failed to parse analysis response")
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("parse response: %v", err),
			Err:        err,
		}
	}

	metrics.End("success")
	logger.Info().
		Str("confidence", result.Confidence).
		Int("observed", len(result.Observed)).
		Int("likely_causes", len(result.LikelyCauses)).
		Msg("analysis completed")

	return result, nil
}

// errNotObject rejects 2xx bodies such as null or a bare array.
var errNotObject = errors.New("response is not a JSON object")

// decodeResult parses a success body. Missing fields stay empty; anything other
// than a JSON object is malformed.
func decodeResult(payload []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var result Result
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks that the service answers HTTP at its base URL. Any status below
// 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("analysis service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("analysis service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func buildMultipart(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writeAsset(writer, "image", req.Image); err != nil {
		return nil, "", err
	}
	if req.Audio != nil {
		if err := writeAsset(writer, "audio", req.Audio); err != nil {
			return nil, "", err
		}
	}
	if text := req.TrimmedText(); text != "" {
		if err := writer.WriteField("text", text); err != nil {
			return nil, "", fmt.Errorf("write text field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// writeAsset adds a file part that keeps the asset's declared content type.
func writeAsset(writer *multipart.Writer, field string, asset *media.Asset) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, asset.Name))
	header.Set("Content-Type", asset.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(asset.Data); err != nil {
		return fmt.Errorf("write %s data: %w", field, err)
	}
	return nil
}
