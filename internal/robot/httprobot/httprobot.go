// Package httprobot drives a robot through an HTTP bridge.
//
// Each primitive is POSTed as {"primitive": "...", "args": [...]} to the
// bridge endpoint. The bridge answers 2xx to acknowledge, 409 when the
// robot's state forbids the command and 503 when it has lost the robot.
package httprobot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fuangela/AutoDrone/internal/robot"
)

// Robot is a Motion backed by an HTTP robot bridge.
type Robot struct {
	endpoint string
	client   *http.Client
}

// New creates a bridge client for endpoint.
func New(endpoint string) *Robot {
	return &Robot{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Name returns the backend identifier.
func (r *Robot) Name() string { return "http" }

// Execute sends cmd to the bridge and waits for its acknowledgment.
func (r *Robot) Execute(ctx context.Context, cmd robot.Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("%w: %v", robot.ErrDisconnected, err)
		}
		return fmt.Errorf("robot request: %w", err)
	}
	defer resp.Body.Close()

	slog.Debug("robot bridge response", "command", cmd.String(), "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%s: %s: %w", cmd.Primitive, bytes.TrimSpace(msg), robot.ErrPrecondition)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %s: %w", cmd.Primitive, bytes.TrimSpace(msg), robot.ErrDisconnected)
	default:
		return fmt.Errorf("robot bridge status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}

// Close releases idle connections.
func (r *Robot) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
