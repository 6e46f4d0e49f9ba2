// Package virtual implements an in-memory drone for development and tests.
//
// It tracks an airborne flag, a position in centimeters and a heading in
// degrees, and records every acknowledged command.
package virtual

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fuangela/AutoDrone/internal/robot"
)

// takeoffHeight is the hover height after takeoff, in centimeters.
const takeoffHeight = 80.0

// approachScale converts a normalized frame offset into a forward/lateral
// displacement, in centimeters, for move_to.
const approachScale = 200.0

// Pose is the simulated drone state.
type Pose struct {
	Airborne bool
	X, Y, Z  float64
	Heading  float64
}

// Robot is a simulated drone.
type Robot struct {
	mu           sync.Mutex
	pose         Pose
	log          []robot.Command
	disconnected bool
	latency      time.Duration
}

// New creates a landed virtual robot. latency delays every acknowledgment.
func New(latency time.Duration) *Robot {
	return &Robot{latency: latency}
}

// Name returns the backend identifier.
func (r *Robot) Name() string { return "virtual" }

// Execute applies cmd to the simulated pose.
func (r *Robot) Execute(ctx context.Context, cmd robot.Command) error {
	if r.latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.latency):
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disconnected {
		return robot.ErrDisconnected
	}

	nums := make([]float64, 0, len(cmd.Args))
	for _, a := range cmd.Args {
		if f, ok := a.(float64); ok {
			nums = append(nums, f)
		}
	}

	switch cmd.Primitive {
	case "takeoff":
		if !r.pose.Airborne {
			r.pose.Airborne = true
			r.pose.Z = takeoffHeight
		}
	case "land":
		r.pose.Airborne = false
		r.pose.Z = 0
	case "hover":
	case "move":
		if err := r.requireAirborne(cmd); err != nil {
			return err
		}
		if len(nums) != 3 {
			return fmt.Errorf("move expects 3 numbers, got %d", len(nums))
		}
		r.translate(nums[0], nums[1])
		r.pose.Z = math.Max(0, r.pose.Z+nums[2])
	case "rotate":
		if err := r.requireAirborne(cmd); err != nil {
			return err
		}
		if len(nums) != 1 {
			return fmt.Errorf("rotate expects 1 number, got %d", len(nums))
		}
		r.pose.Heading = math.Mod(r.pose.Heading+nums[0]+360, 360)
	case "move_to":
		if err := r.requireAirborne(cmd); err != nil {
			return err
		}
		if len(nums) != 4 {
			return fmt.Errorf("move_to expects 4 numbers, got %d", len(nums))
		}
		// Closer objects (larger boxes) need less forward travel.
		forward := approachScale * math.Max(0, 1-math.Sqrt(nums[2]*nums[3]))
		lateral := approachScale * (0.5 - nums[0])
		r.translate(forward, lateral)
	default:
		if err := r.requireAirborne(cmd); err != nil {
			return err
		}
	}

	r.log = append(r.log, cmd)
	slog.Debug("virtual robot ack", "command", cmd.String(),
		"x", r.pose.X, "y", r.pose.Y, "z", r.pose.Z, "heading", r.pose.Heading)
	return nil
}

func (r *Robot) requireAirborne(cmd robot.Command) error {
	if !r.pose.Airborne {
		return fmt.Errorf("%s while landed: %w", cmd.Primitive, robot.ErrPrecondition)
	}
	return nil
}

// translate moves along the current heading (forward) and to its left (lateral).
func (r *Robot) translate(forward, lateral float64) {
	rad := r.pose.Heading * math.Pi / 180
	r.pose.X += forward*math.Cos(rad) - lateral*math.Sin(rad)
	r.pose.Y += forward*math.Sin(rad) + lateral*math.Cos(rad)
}

// Pose returns the current simulated state.
func (r *Robot) Pose() Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pose
}

// Commands returns the acknowledged commands in order.
func (r *Robot) Commands() []robot.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]robot.Command, len(r.log))
	copy(out, r.log)
	return out
}

// Disconnect makes every later command fail with robot.ErrDisconnected.
func (r *Robot) Disconnect() {
	r.mu.Lock()
	r.disconnected = true
	r.mu.Unlock()
}

// Close is a no-op for the virtual robot.
func (r *Robot) Close() error { return nil }
