package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"chart-pattern-scanner/internal/version"
)

const predictPath = "/predict"

// HTTPOptions parameterise the inference service client.
type HTTPOptions struct {
	Endpoint  string
	Model     string
	Timeout   time.Duration
	UserAgent string
}

// HTTPDetector sends charts to a model inference service over HTTP.
type HTTPDetector struct {
	opts     HTTPOptions
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
	validate *validator.Validate
}

// NewHTTPDetector constructs an inference client. A zero timeout leaves
// requests unbounded.
func NewHTTPDetector(opts HTTPOptions, logger zerolog.Logger) *HTTPDetector {
	baseURL := strings.TrimRight(opts.Endpoint, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}

	return &HTTPDetector{
		opts:     opts,
		logger:   logger.With().Str("component", "http_detector").Logger(),
		client:   &http.Client{Timeout: opts.Timeout},
		baseURL:  baseURL,
		validate: validator.New(),
	}
}

// Detect encodes img as PNG, posts it with the thresholds and returns the
// boxes that satisfy them.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image, th Thresholds) ([]Box, error) {
	var encoded bytes.Buffer
	if err := imaging.Encode(&encoded, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	reqPayload := predictRequest{
		Model:       d.opts.Model,
		Image:       base64.StdEncoding.EncodeToString(encoded.Bytes()),
		Conf:        th.Confidence,
		IoU:         th.IoU,
		AgnosticNMS: th.ClassAgnostic,
		MaxDet:      th.MaxDetections,
	}
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal predict payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+predictPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send predict request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read predict response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res predictResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	if err := d.validate.Struct(&res); err != nil {
		return nil, fmt.Errorf("invalid predict response: %w", err)
	}

	boxes := make([]Box, 0, len(res.Predictions))
	for _, p := range res.Predictions {
		if p.Confidence < th.Confidence {
			continue
		}
		boxes = append(boxes, Box{
			X1: p.Box.X1, Y1: p.Box.Y1, X2: p.Box.X2, Y2: p.Box.Y2,
			ClassID:    p.ClassID,
			Class:      p.Class,
			Confidence: p.Confidence,
		})
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })
	if th.MaxDetections > 0 && len(boxes) > th.MaxDetections {
		boxes = boxes[:th.MaxDetections]
	}

	d.logger.Debug().Int("predictions", len(res.Predictions)).Int("kept", len(boxes)).Msg("predict completed")
	return boxes, nil
}

type predictRequest struct {
	Model       string  `json:"model,omitempty"`
	Image       string  `json:"image"`
	Conf        float64 `json:"conf"`
	IoU         float64 `json:"iou"`
	AgnosticNMS bool    `json:"agnostic_nms"`
	MaxDet      int     `json:"max_det"`
}

type predictResponse struct {
	Predictions []prediction `json:"predictions" validate:"dive"`
}

type prediction struct {
	ClassID    int     `json:"class_id" validate:"gte=0"`
	Class      string  `json:"class" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Box        struct {
		X1 float64 `json:"x1"`
		Y1 float64 `json:"y1"`
		X2 float64 `json:"x2" validate:"gtefield=X1"`
		Y2 float64 `json:"y2" validate:"gtefield=Y1"`
	} `json:"box"`
}

type errorResponse struct {
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Detail, apiErr.Error, apiErr.Message} {
			if msg != "" {
				return fmt.Errorf("inference api error (%d): %s", status, msg)
			}
		}
	}
	if len(payload) > 0 {
		text := strings.TrimSpace(string(payload))
		if len(text) > 256 {
			text = text[:256]
		}
		return fmt.Errorf("inference api error (%d): %s", status, text)
	}
	return errors.New("inference api error: " + http.StatusText(status))
}

var _ Detector = (*HTTPDetector)(nil)
