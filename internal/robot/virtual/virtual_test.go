package virtual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuangela/AutoDrone/internal/robot"
)

func exec(t *testing.T, r *Robot, prim string, args ...any) error {
	t.Helper()
	return r.Execute(context.Background(), robot.Command{Primitive: prim, Args: args})
}

func TestRobot_MoveRequiresTakeoff(t *testing.T) {
	r := New(0)
	err := exec(t, r, "move", 10.0, 0.0, 0.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, robot.ErrPrecondition))
	assert.Empty(t, r.Commands())
}

func TestRobot_FlightPath(t *testing.T) {
	r := New(0)
	require.NoError(t, exec(t, r, "takeoff"))
	require.NoError(t, exec(t, r, "move", 100.0, 0.0, 20.0))
	require.NoError(t, exec(t, r, "rotate", 90.0))
	require.NoError(t, exec(t, r, "move", 50.0, 0.0, 0.0))

	p := r.Pose()
	assert.True(t, p.Airborne)
	assert.InDelta(t, 100, p.X, 1e-6)
	assert.InDelta(t, 50, p.Y, 1e-6)
	assert.InDelta(t, 100, p.Z, 1e-6)
	assert.InDelta(t, 90, p.Heading, 1e-6)

	require.NoError(t, exec(t, r, "land"))
	assert.False(t, r.Pose().Airborne)
	assert.Len(t, r.Commands(), 5)
}

func TestRobot_MoveToApproachesObject(t *testing.T) {
	r := New(0)
	require.NoError(t, exec(t, r, "takeoff"))
	require.NoError(t, exec(t, r, "move_to", 0.5, 0.5, 0.2, 0.2))
	p := r.Pose()
	assert.Greater(t, p.X, 0.0)
	assert.InDelta(t, 0, p.Y, 1e-6)
}

func TestRobot_Disconnect(t *testing.T) {
	r := New(0)
	r.Disconnect()
	assert.ErrorIs(t, exec(t, r, "takeoff"), robot.ErrDisconnected)
}

func TestRobot_LatencyHonorsContext(t *testing.T) {
	r := New(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Execute(ctx, robot.Command{Primitive: "takeoff"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, r.Pose().Airborne)
}
