// Package yolohttp implements a Detector against the YOLO router service's
// HTTP endpoint.
//
// Each frame is POSTed as multipart/form-data with an "image" file part and
// a "json_data" part carrying {user_name, stream_mode, image_id, conf}. The
// service answers {"image_id": n, "result": [...]}.
package yolohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/fuangela/AutoDrone/internal/perception"
	"github.com/fuangela/AutoDrone/internal/scene"
)

// Detector posts frames to the YOLO router.
type Detector struct {
	endpoint   string
	userName   string
	confidence float64
	client     *http.Client
}

// New creates a detector posting to endpoint (e.g., http://host:50049/yolo).
func New(endpoint, userName string, confidence float64) *Detector {
	if userName == "" {
		userName = "yolo"
	}
	return &Detector{
		endpoint:   endpoint,
		userName:   userName,
		confidence: confidence,
		client:     &http.Client{},
	}
}

// Name returns the backend identifier.
func (d *Detector) Name() string { return "yolohttp" }

type requestConfig struct {
	UserName   string  `json:"user_name"`
	StreamMode bool    `json:"stream_mode"`
	ImageID    int64   `json:"image_id"`
	Conf       float64 `json:"conf"`
}

// Detect sends one frame to the service.
func (d *Detector) Detect(ctx context.Context, f perception.Frame) ([]scene.Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "image"+extFromContentType(f.ContentType))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, fmt.Errorf("writing image: %w", err)
	}

	cfg, err := json.Marshal(requestConfig{
		UserName:   d.userName,
		StreamMode: true,
		ImageID:    f.ID,
		Conf:       d.confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling request config: %w", err)
	}
	_ = writer.WriteField("json_data", string(cfg))
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading detect response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect failed (status %d): %.200s", resp.StatusCode, respBody)
	}

	dets, err := perception.DecodeResult(respBody, f.ID)
	if err != nil {
		return nil, err
	}
	slog.Debug("yolo http detect", "frame", f.ID, "objects", len(dets))
	return dets, nil
}

// Close releases idle connections.
func (d *Detector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func extFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	default:
		return ".webp"
	}
}
