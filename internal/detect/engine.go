package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
)

// Engine is the opaque face-detection inference engine. Implementations
// take an assembled contiguous buffer plus its descriptor and return the
// detections found, in engine order.
type Engine interface {
	Detect(ctx context.Context, buf []byte, desc frame.ImageDescriptor) ([]Detection, error)
	HealthCheck(ctx context.Context) error
	Name() string
}

// HTTPEngine is an HTTP client for a sidecar inference service
type HTTPEngine struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	options    Options
	confidence float64
}

// HTTPEngineConfig contains configuration for the HTTP engine client
type HTTPEngineConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	Options             Options
	ConfidenceThreshold float64
}

// NewHTTPEngine creates a new inference service client
func NewHTTPEngine(config HTTPEngineConfig, log *logger.Logger) *HTTPEngine {
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}

	return &HTTPEngine{
		serviceURL: config.ServiceURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:     log,
		options:    config.Options,
		confidence: config.ConfidenceThreshold,
	}
}

// Name identifies the engine in logs and status output
func (e *HTTPEngine) Name() string {
	return "http"
}

// inferenceRequest is the wire request to the inference service
type inferenceRequest struct {
	Image               string   `json:"image"` // base64-encoded contiguous frame buffer
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	Rotation            int      `json:"rotation"`
	Format              string   `json:"format"`
	BytesPerRow         int      `json:"bytes_per_row"`
	Options             Options  `json:"options"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// wireDetection is one detection as the inference service reports it
type wireDetection struct {
	X1         float64            `json:"x1"`
	Y1         float64            `json:"y1"`
	X2         float64            `json:"x2"`
	Y2         float64            `json:"y2"`
	Confidence float64            `json:"confidence"`
	TrackID    *int               `json:"track_id,omitempty"`
	Landmarks  []Landmark         `json:"landmarks,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// inferenceResponse is the wire response from the inference service
type inferenceResponse struct {
	Detections      []wireDetection `json:"detections"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
	DetectionCount  int             `json:"detection_count"`
}

// Detect performs one inference call against the sidecar service
func (e *HTTPEngine) Detect(ctx context.Context, buf []byte, desc frame.ImageDescriptor) ([]Detection, error) {
	req := inferenceRequest{
		Image:       base64.StdEncoding.EncodeToString(buf),
		Width:       desc.Width,
		Height:      desc.Height,
		Rotation:    desc.Rotation,
		Format:      string(desc.Format),
		BytesPerRow: desc.BytesPerRow,
		Options:     e.options,
	}
	if e.confidence > 0 {
		req.ConfidenceThreshold = &e.confidence
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrInference, err)
	}

	url := fmt.Sprintf("%s/api/v1/detect", e.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrInference, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	e.logger.Debug("Sending inference request", "url", url, "bytes", len(buf))
	startTime := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrInference, err)
	}

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("Inference service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("%w: service returned status %d", ErrInference, resp.StatusCode)
	}

	var infResp inferenceResponse
	if err := json.Unmarshal(body, &infResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrInference, err)
	}

	detections, err := convertWire(infResp.Detections)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Inference completed",
		"detection_count", len(detections),
		"inference_time_ms", infResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return detections, nil
}

// convertWire validates and converts wire detections to the internal shape
func convertWire(wire []wireDetection) ([]Detection, error) {
	detections := make([]Detection, 0, len(wire))
	for i, w := range wire {
		if w.X2 < w.X1 || w.Y2 < w.Y1 {
			return nil, fmt.Errorf("%w: malformed box in detection %d: (%f,%f,%f,%f)",
				ErrInference, i, w.X1, w.Y1, w.X2, w.Y2)
		}
		detections = append(detections, Detection{
			Box:        Box{Left: w.X1, Top: w.Y1, Right: w.X2, Bottom: w.Y2},
			Confidence: w.Confidence,
			TrackID:    w.TrackID,
			Landmarks:  w.Landmarks,
			Scores:     w.Scores,
		})
	}
	return detections, nil
}

// HealthCheck checks if the inference service is ready
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", e.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrResourceUnavailable, err)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: engine unreachable: %v", ErrResourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: engine health check returned status %d", ErrResourceUnavailable, resp.StatusCode)
	}

	return nil
}
