package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"lapscreen/internal/geometry"
	"lapscreen/internal/imageio"
)

// RemoteDetector posts frames to an external inference service.
//
// The service receives a multipart "file" field holding a JPEG and answers
//
//	{"detections": [{"x": 1, "y": 2, "width": 3, "height": 4, "confidence": 0.9, "polygon": [[x, y], ...]}]}
//
// A detection without a polygon is treated as its bounding box.
type RemoteDetector struct {
	url        string
	client     *http.Client
	confidence float64
}

type remoteDetection struct {
	X          int         `json:"x"`
	Y          int         `json:"y"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Confidence float64     `json:"confidence"`
	Polygon    [][]float64 `json:"polygon"`
}

func NewRemoteDetector(url string, timeout time.Duration, confidence float64) *RemoteDetector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteDetector{
		url:        strings.TrimRight(url, "/"),
		client:     &http.Client{Timeout: timeout},
		confidence: confidence,
	}
}

// Detect sends the frame and rasterizes the most confident answer.
func (r *RemoteDetector) Detect(ctx context.Context, f Frame) (*Detection, error) {
	if f.Image.Empty() {
		return nil, errors.New("empty frame")
	}
	jpeg, err := imageio.Encode(f.Image, ".jpg")
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	name := "image.jpg"
	if f.Path != "" {
		name = strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path)) + ".jpg"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(jpeg)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Detections []remoteDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	best := -1
	for i, d := range result.Detections {
		if d.Confidence < r.confidence {
			continue
		}
		if best < 0 || d.Confidence > result.Detections[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}
	return fromPolygon(result.Detections[best].outline(), f.Image.Cols(), f.Image.Rows(), result.Detections[best].Confidence, "remote")
}

func (d remoteDetection) outline() geometry.Polygon {
	if poly := geometry.PolygonFromPairs(d.Polygon); poly.Len() >= 3 {
		return poly
	}
	x, y := float64(d.X), float64(d.Y)
	x2, y2 := float64(d.X+d.Width), float64(d.Y+d.Height)
	return geometry.NewPolygon(geometry.Pt(x, y), geometry.Pt(x2, y), geometry.Pt(x2, y2), geometry.Pt(x, y2))
}

// CheckHealth reports whether the inference service answers on /health.
func (r *RemoteDetector) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
