package perception

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTPFrames fetches a still image from a camera snapshot URL on every call.
type HTTPFrames struct {
	url    string
	client *http.Client
}

// NewHTTPFrames creates an HTTP frame source.
func NewHTTPFrames(url string) *HTTPFrames {
	return &HTTPFrames{url: url, client: &http.Client{}}
}

// Next fetches one frame.
func (s *HTTPFrames) Next(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("creating frame request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("frame request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("frame request failed (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Frame{}, fmt.Errorf("reading frame: %w", err)
	}
	return Frame{Data: data, ContentType: resp.Header.Get("Content-Type"), CapturedAt: time.Now()}, nil
}

// FileFrames re-reads an image file on every call, so an external process
// can keep overwriting it.
type FileFrames struct {
	path string
}

// NewFileFrames creates a file frame source.
func NewFileFrames(path string) *FileFrames {
	return &FileFrames{path: path}
}

// Next reads the file.
func (s *FileFrames) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Frame{}, fmt.Errorf("reading frame file: %w", err)
	}
	return Frame{Data: data, ContentType: http.DetectContentType(data), CapturedAt: time.Now()}, nil
}

// BlankFrames yields empty frames, for detectors that ignore the image.
type BlankFrames struct{}

// Next returns an empty frame.
func (BlankFrames) Next(ctx context.Context) (Frame, error) {
	return Frame{CapturedAt: time.Now()}, ctx.Err()
}
