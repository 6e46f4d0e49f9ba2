// Package robot defines the motion collaborator: the single, exclusively
// owned link to the drone (real or simulated).
package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDisconnected means the robot link is gone. Missions abort on it.
	ErrDisconnected = errors.New("robot disconnected")

	// ErrPrecondition means the robot's current state forbids the command,
	// e.g. moving while landed.
	ErrPrecondition = errors.New("robot precondition not met")
)

// Command is one validated motion primitive call.
type Command struct {
	Primitive string `json:"primitive"`
	Args      []any  `json:"args,omitempty"`
}

func (c Command) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprint(a)
	}
	return c.Primitive + "(" + strings.Join(args, ", ") + ")"
}

// Motion executes motion primitives. A nil error is the acknowledgment.
type Motion interface {
	// Name returns the backend identifier (e.g., "virtual", "http").
	Name() string

	// Execute performs one primitive and blocks until the robot acknowledges it.
	Execute(ctx context.Context, cmd Command) error

	// Close releases the link.
	Close() error
}
