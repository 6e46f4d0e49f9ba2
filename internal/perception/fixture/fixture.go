// Package fixture implements a Detector that replays detections from a YAML
// file instead of looking at the image. It backs virtual runs and tests.
//
// File format:
//
//	frames:
//	  - detections:
//	      - name: cup
//	        confidence: 0.6
//	        box: {x1: 0.4, y1: 0.4, x2: 0.6, y2: 0.7}
//	  - detections: []
//
// Frames are replayed in order and the sequence wraps. A top-level
// "detections" list is shorthand for a single frame.
package fixture

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fuangela/AutoDrone/internal/perception"
	"github.com/fuangela/AutoDrone/internal/scene"
)

type file struct {
	Detections []scene.Detection `yaml:"detections"`
	Frames     []struct {
		Detections []scene.Detection `yaml:"detections"`
	} `yaml:"frames"`
}

// Detector replays a fixed sequence of detection sets.
type Detector struct {
	mu     sync.Mutex
	frames [][]scene.Detection
	next   int
}

// New creates a detector replaying frames in order. With no frames it sees
// nothing.
func New(frames ...[]scene.Detection) *Detector {
	return &Detector{frames: frames}
}

// Load reads a fixture file. An empty path yields a detector that sees
// nothing.
func Load(path string) (*Detector, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixture YAML.
func Parse(data []byte) (*Detector, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	var frames [][]scene.Detection
	if len(f.Detections) > 0 {
		frames = append(frames, f.Detections)
	}
	for _, fr := range f.Frames {
		frames = append(frames, fr.Detections)
	}
	for i, fr := range frames {
		for j, d := range fr {
			if d.Class == "" {
				return nil, fmt.Errorf("frame %d detection %d: name is required", i, j)
			}
		}
	}
	return New(frames...), nil
}

// Name returns the backend identifier.
func (d *Detector) Name() string { return "fixture" }

// Detect returns the next frame's detections.
func (d *Detector) Detect(ctx context.Context, _ perception.Frame) ([]scene.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil, nil
	}
	fr := d.frames[d.next%len(d.frames)]
	d.next++
	return append([]scene.Detection(nil), fr...), nil
}

// Set replaces the replayed sequence.
func (d *Detector) Set(frames ...[]scene.Detection) {
	d.mu.Lock()
	d.frames = frames
	d.next = 0
	d.mu.Unlock()
}

// Close is a no-op.
func (d *Detector) Close() error { return nil }
