// Package perception turns camera frames into scene snapshots.
//
// A FrameSource yields frames, a Detector labels them, and the Pipeline runs
// both in the background and publishes every result into a scene.Cache. The
// engine never waits on the pipeline; it reads whatever snapshot is current.
package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fuangela/AutoDrone/internal/scene"
)

// Frame is one captured camera image.
type Frame struct {
	ID          int64
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Detector labels objects in a frame.
type Detector interface {
	// Name returns the backend identifier (e.g., "yolohttp", "fixture").
	Name() string

	// Detect returns the objects found in the frame. Coordinates are
	// normalized to the frame size.
	Detect(ctx context.Context, f Frame) ([]scene.Detection, error)

	// Close releases any connections held by the detector.
	Close() error
}

// FrameSource yields the latest camera frame. Sources do not assign frame IDs.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Result is the detector wire format shared by the HTTP and gRPC services:
// {"image_id": 7, "result": [{"name": "cup", "confidence": 0.6, "box": {...}}]}
type Result struct {
	ImageID int64        `json:"image_id"`
	Results []resultItem `json:"result"`
}

type resultItem struct {
	Name       string    `json:"name"`
	Confidence flexFloat `json:"confidence"`
	Box        struct {
		X1 flexFloat `json:"x1"`
		Y1 flexFloat `json:"y1"`
		X2 flexFloat `json:"x2"`
		Y2 flexFloat `json:"y2"`
	} `json:"box"`
}

// flexFloat accepts both JSON numbers and numeric strings; some detector
// services serialize coordinates as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(v)
	return nil
}

// DecodeResult parses a detector response and checks it answers wantID.
func DecodeResult(data []byte, wantID int64) ([]scene.Detection, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding detector result: %w", err)
	}
	if r.ImageID != wantID {
		return nil, fmt.Errorf("detector answered image %d, want %d", r.ImageID, wantID)
	}
	dets := make([]scene.Detection, 0, len(r.Results))
	for _, item := range r.Results {
		dets = append(dets, scene.Detection{
			Class:      item.Name,
			Confidence: float64(item.Confidence),
			Box: scene.Box{
				X1: float64(item.Box.X1),
				Y1: float64(item.Box.Y1),
				X2: float64(item.Box.X2),
				Y2: float64(item.Box.Y2),
			},
		})
	}
	return dets, nil
}
