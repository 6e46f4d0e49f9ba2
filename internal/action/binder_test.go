package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/robot"
	"github.com/fuangela/AutoDrone/internal/scene"
)

type fakeMotion struct {
	calls []robot.Command
	err   error
	panic bool
	block bool
}

func (f *fakeMotion) Name() string { return "fake" }

func (f *fakeMotion) Execute(ctx context.Context, cmd robot.Command) error {
	f.calls = append(f.calls, cmd)
	if f.panic {
		panic("servo on fire")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeMotion) Close() error { return nil }

func call(t *testing.T, src string, args ...Value) Call {
	t.Helper()
	p, err := minispec.Parse(src)
	require.NoError(t, err)
	return Call{Instr: p.At(p.Len() - 1), Args: args}
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func snapshot(dets ...scene.Detection) *scene.Snapshot {
	return scene.NewSnapshot(1, now, dets)
}

func TestInvoke_MotionForwardsToRobot(t *testing.T) {
	m := &fakeMotion{}
	b := New(m, Options{})

	out := b.Invoke(context.Background(), call(t, "move(10, 0, -5)", NumberValue(10), NumberValue(0), NumberValue(-5)), nil)
	require.Equal(t, StatusOK, out.Status, out.Explanation)
	require.Len(t, m.calls, 1)
	assert.Equal(t, robot.Command{Primitive: "move", Args: []any{10.0, 0.0, -5.0}}, m.calls[0])
	assert.Equal(t, "move(10, 0, -5)", out.Instruction)
}

func TestInvoke_MotionValidation(t *testing.T) {
	m := &fakeMotion{}
	b := New(m, Options{MaxStepCM: 200})

	cases := []struct {
		name string
		c    Call
	}{
		{"step too large", call(t, "move(500, 0, 0)", NumberValue(500), NumberValue(0), NumberValue(0))},
		{"rotation out of range", call(t, "rotate(720)", NumberValue(720))},
		{"wrong type", call(t, `rotate(90)`, StringValue("ninety"))},
		{"not finite", call(t, "rotate(1)", NumberValue(posInf()))},
		{"arity", call(t, "rotate(1)")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := b.Invoke(context.Background(), tc.c, nil)
			assert.Equal(t, StatusPreconditionFailed, out.Status)
			assert.NotEmpty(t, out.Explanation)
		})
	}
	assert.Empty(t, m.calls, "invalid calls must never reach the robot")
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}

func TestInvoke_MoveToUsesObjectBox(t *testing.T) {
	m := &fakeMotion{}
	b := New(m, Options{})
	obj := scene.Object{Class: "cup", Box: scene.Box{X1: 0.4, Y1: 0.4, X2: 0.6, Y2: 0.8}}

	p, err := minispec.Parse(`c = find("cup"); move_to(c)`)
	require.NoError(t, err)
	out := b.Invoke(context.Background(), Call{Instr: p.At(1), Args: []Value{ObjectValue(obj)}}, nil)
	require.Equal(t, StatusOK, out.Status)

	args := m.calls[0].Args
	require.Len(t, args, 4)
	assert.InDelta(t, 0.5, args[0].(float64), 1e-9)
	assert.InDelta(t, 0.6, args[1].(float64), 1e-9)
	assert.InDelta(t, 0.2, args[2].(float64), 1e-9)
	assert.InDelta(t, 0.4, args[3].(float64), 1e-9)
}

func TestInvoke_RobotErrorsBecomeOutcomes(t *testing.T) {
	t.Run("fault", func(t *testing.T) {
		b := New(&fakeMotion{err: errors.New("battery low")}, Options{})
		out := b.Invoke(context.Background(), call(t, "takeoff()"), nil)
		assert.Equal(t, StatusActionError, out.Status)
		assert.Contains(t, out.Explanation, "battery low")
	})

	t.Run("precondition", func(t *testing.T) {
		b := New(&fakeMotion{err: fmt.Errorf("landed: %w", robot.ErrPrecondition)}, Options{})
		out := b.Invoke(context.Background(), call(t, "rotate(90)", NumberValue(90)), nil)
		assert.Equal(t, StatusPreconditionFailed, out.Status)
	})

	t.Run("disconnect keeps the cause", func(t *testing.T) {
		b := New(&fakeMotion{err: robot.ErrDisconnected}, Options{})
		out := b.Invoke(context.Background(), call(t, "land()"), nil)
		assert.Equal(t, StatusActionError, out.Status)
		assert.ErrorIs(t, out.Err, robot.ErrDisconnected)
	})

	t.Run("panic", func(t *testing.T) {
		b := New(&fakeMotion{panic: true}, Options{})
		out := b.Invoke(context.Background(), call(t, "takeoff()"), nil)
		assert.Equal(t, StatusActionError, out.Status)
		assert.Contains(t, out.Explanation, "servo on fire")
	})

	t.Run("timeout", func(t *testing.T) {
		b := New(&fakeMotion{block: true}, Options{MotionTimeout: 10 * time.Millisecond})
		out := b.Invoke(context.Background(), call(t, "takeoff()"), nil)
		assert.Equal(t, StatusActionError, out.Status)
		assert.Contains(t, out.Explanation, "timed out")
	})
}

func TestInvoke_FindAndCount(t *testing.T) {
	b := New(&fakeMotion{}, Options{})
	snap := snapshot(
		scene.Detection{Class: "cup", Confidence: 0.6, Box: scene.Box{X1: 0.1, Y1: 0.1, X2: 0.3, Y2: 0.3}},
		scene.Detection{Class: "chair", Confidence: 0.8},
		scene.Detection{Class: "chair", Confidence: 0.7},
	)

	out := b.Invoke(context.Background(), call(t, `c = find("cup")`, StringValue("cup")), snap)
	require.Equal(t, StatusOK, out.Status)
	require.NotNil(t, out.Value)
	assert.Equal(t, "cup", out.Value.Obj.Class)
	assert.InDelta(t, 0.6, out.Value.Obj.Confidence, 1e-9)

	out = b.Invoke(context.Background(), call(t, `c = find("chair", 1)`, StringValue("chair"), NumberValue(1)), snap)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 1, out.Value.Obj.Index)

	out = b.Invoke(context.Background(), call(t, `n = count("chair")`, StringValue("chair")), snap)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, 2.0, out.Value.Num)
}

func TestInvoke_QueryEmpty(t *testing.T) {
	b := New(&fakeMotion{}, Options{})
	snap := snapshot(scene.Detection{Class: "chair"}, scene.Detection{Class: "chair"})

	out := b.Invoke(context.Background(), call(t, `c = find("cup")`, StringValue("cup")), snap)
	assert.Equal(t, StatusQueryEmpty, out.Status)
	assert.Equal(t, "find(cup) returned no results", out.Explanation)

	out = b.Invoke(context.Background(), call(t, `c = find("chair", 5)`, StringValue("chair"), NumberValue(5)), snap)
	assert.Equal(t, StatusQueryEmpty, out.Status, "an index past the end is ambiguity, not an error")

	out = b.Invoke(context.Background(), call(t, `n = count("cup")`, StringValue("cup")), snap)
	assert.Equal(t, StatusQueryEmpty, out.Status)

	out = b.Invoke(context.Background(), call(t, `c = find("chair", 0.5)`, StringValue("chair"), NumberValue(0.5)), snap)
	assert.Equal(t, StatusPreconditionFailed, out.Status)
}

func TestInvoke_QueriesNeverTouchRobot(t *testing.T) {
	m := &fakeMotion{}
	b := New(m, Options{})
	b.Invoke(context.Background(), call(t, `c = find("cup")`, StringValue("cup")), nil)
	b.Invoke(context.Background(), call(t, `n = count("cup")`, StringValue("cup")), nil)
	assert.Empty(t, m.calls)
}

func TestInvoke_StaleSnapshot(t *testing.T) {
	b := New(&fakeMotion{}, Options{
		MaxSceneAge: time.Second,
		Now:         func() time.Time { return now.Add(5 * time.Second) },
	})
	out := b.Invoke(context.Background(), call(t, `c = find("cup")`, StringValue("cup")), snapshot(scene.Detection{Class: "cup"}))
	assert.Equal(t, StatusPreconditionFailed, out.Status)
	assert.Contains(t, out.Explanation, "stale")

	out = b.Invoke(context.Background(), call(t, `c = find("cup")`, StringValue("cup")), scene.Empty())
	assert.Equal(t, StatusPreconditionFailed, out.Status)
}

func TestInvoke_GoalOpcodes(t *testing.T) {
	m := &fakeMotion{}
	b := New(m, Options{})

	out := b.Invoke(context.Background(), call(t, `report("two chairs")`, StringValue("two chairs")), nil)
	require.Equal(t, StatusOK, out.Status)
	assert.Equal(t, "two chairs", out.Value.Str)

	out = b.Invoke(context.Background(), call(t, "done()"), nil)
	assert.Equal(t, StatusOK, out.Status)
	assert.Empty(t, m.calls)
}

func TestSafety_IssuesConfiguredPrimitive(t *testing.T) {
	m := &fakeMotion{}
	require.NoError(t, New(m, Options{}).Safety(context.Background()))
	require.NoError(t, New(m, Options{SafetyPrimitive: "hover"}).Safety(context.Background()))
	assert.Equal(t, []robot.Command{{Primitive: "land"}, {Primitive: "hover"}}, m.calls)
}
