package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submission metrics
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "field_assist_submissions_total",
		Help: "Total number of analysis submissions by outcome",
	}, []string{"outcome"}) // outcome: success, validation_error, remote_error, rejected

	submissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "field_assist_submission_latency_seconds",
		Help:    "Round trip latency of analysis requests in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	})

	submissionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "field_assist_submissions_in_flight",
		Help: "Number of analysis requests currently in flight (0 or 1)",
	})

	// Capture metrics
	captureSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "field_assist_capture_sessions_total",
		Help: "Total number of microphone capture attempts by outcome",
	}, []string{"outcome"}) // outcome: started, denied, completed, discarded

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "field_assist_recording_active",
		Help: "Whether a microphone capture session is currently recording",
	})

	capturedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "field_assist_captured_audio_bytes_total",
		Help: "Total audio bytes captured from the microphone",
	})

	// Preview handles
	previewHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "field_assist_preview_handles",
		Help: "Number of live media preview handles",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "field_assist_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "field_assist_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "field_assist_circuit_breaker_failures_total",
		Help: "Total failures recorded by circuit breakers",
	}, []string{"service"})

	// Connected console clients
	consoleClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "field_assist_console_clients",
		Help: "Number of connected console WebSocket clients",
	})
)

// SubmissionMetrics tracks one analysis round trip
type SubmissionMetrics struct {
	startTime time.Time
}

// StartSubmission records the start of an analysis request
func StartSubmission() *SubmissionMetrics {
	submissionsInFlight.Inc()
	return &SubmissionMetrics{startTime: time.Now()}
}

// End records the outcome of the request started by StartSubmission
func (m *SubmissionMetrics) End(outcome string) {
	submissionsInFlight.Dec()
	submissionLatency.Observe(time.Since(m.startTime).Seconds())
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSubmissionOutcome records an outcome that never reached the network
func RecordSubmissionOutcome(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCaptureOutcome records a capture session lifecycle outcome
func RecordCaptureOutcome(outcome string) {
	captureSessions.WithLabelValues(outcome).Inc()
}

// SetRecording updates the recording gauge
func SetRecording(active bool) {
	if active {
		recordingActive.Set(1)
		return
	}
	recordingActive.Set(0)
}

// RecordCapturedBytes records audio bytes read from the device
func RecordCapturedBytes(n int) {
	capturedBytes.Add(float64(n))
}

// SetPreviewHandles updates the live preview handle gauge
func SetPreviewHandles(n int) {
	previewHandles.Set(float64(n))
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// ConsoleClientConnected and ConsoleClientDisconnected track WebSocket clients
func ConsoleClientConnected() {
	consoleClients.Inc()
}

func ConsoleClientDisconnected() {
	consoleClients.Dec()
}
