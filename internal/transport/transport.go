// Package transport defines how missions arrive from the outside world.
//
// Each transport (HTTP, gRPC) turns its wire format into a mission.Request
// and hands it to the Service. Transports never talk to the robot directly.
package transport

import (
	"context"

	"github.com/fuangela/AutoDrone/internal/dispatch"
	"github.com/fuangela/AutoDrone/internal/mission"
)

// Service is what a transport drives. *dispatch.Dispatcher implements it.
type Service interface {
	// Handle runs a mission and blocks until it finishes.
	Handle(ctx context.Context, req *mission.Request) (*mission.Result, error)

	// Cancel stops the mission in flight and returns its ID.
	Cancel() (string, error)

	// Current returns the mission in flight, if any.
	Current() (dispatch.Active, bool)
}

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen accepts missions until the context is cancelled.
	Listen(ctx context.Context, svc Service) error

	// Close stops accepting missions and drains in-flight requests.
	Close() error
}

var _ Service = (*dispatch.Dispatcher)(nil)
