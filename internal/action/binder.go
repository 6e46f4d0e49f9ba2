package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/robot"
	"github.com/fuangela/AutoDrone/internal/scene"
)

// Options tunes validation and collaborator timeouts.
type Options struct {
	// MotionTimeout bounds each robot call. Zero means no timeout.
	MotionTimeout time.Duration

	// MaxSceneAge rejects queries against older snapshots. Zero disables the check.
	MaxSceneAge time.Duration

	// MaxStepCM bounds each move component. Zero disables the check.
	MaxStepCM float64

	// SafetyPrimitive is issued by Safety; defaults to "land".
	SafetyPrimitive string

	// Now overrides the clock for staleness checks.
	Now func() time.Time
}

// Call is an instruction whose arguments have been resolved to values.
type Call struct {
	Instr minispec.Instruction
	Args  []Value
}

// Binder maps instructions to robot calls and scene queries. It owns the
// robot link; nothing else issues motion commands.
type Binder struct {
	motion robot.Motion
	opts   Options
}

// New creates a Binder around the robot link.
func New(motion robot.Motion, opts Options) *Binder {
	if opts.SafetyPrimitive == "" {
		opts.SafetyPrimitive = minispec.OpLand
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Binder{motion: motion, opts: opts}
}

// Invoke dispatches one call against the robot or the snapshot.
func (b *Binder) Invoke(ctx context.Context, call Call, snap *scene.Snapshot) Outcome {
	out := Outcome{
		Instruction: call.Instr.String(),
		Op:          call.Instr.Op(),
	}

	if msg, ok := checkArgs(call); !ok {
		return fail(out, StatusPreconditionFailed, msg, nil)
	}

	switch call.Instr.Prim.Kind {
	case minispec.KindMotion:
		return b.invokeMotion(ctx, out, call)
	case minispec.KindQuery:
		return b.invokeQuery(out, call, snap)
	case minispec.KindGoal:
		return invokeGoal(out, call)
	}
	return fail(out, StatusPreconditionFailed, fmt.Sprintf("primitive kind %s cannot be executed", call.Instr.Prim.Kind), nil)
}

func fail(out Outcome, status Status, msg string, err error) Outcome {
	out.Status = status
	out.Explanation = msg
	out.Err = err
	return out
}

func checkArgs(call Call) (string, bool) {
	params := call.Instr.Prim.Params
	if len(call.Args) < call.Instr.Prim.MinArgs || len(call.Args) > len(params) {
		return fmt.Sprintf("%s got %d arguments", call.Instr.Op(), len(call.Args)), false
	}
	for i, v := range call.Args {
		p := params[i]
		if v.Type != p.Type {
			return fmt.Sprintf("argument %s of %s must be %s, got %s", p.Name, call.Instr.Op(), p.Type, v.Type), false
		}
		if v.Type == minispec.TypeNumber && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
			return fmt.Sprintf("argument %s of %s is not a finite number", p.Name, call.Instr.Op()), false
		}
	}
	return "", true
}

func (b *Binder) invokeMotion(ctx context.Context, out Outcome, call Call) Outcome {
	cmd := robot.Command{Primitive: call.Instr.Op()}

	switch call.Instr.Op() {
	case minispec.OpMove:
		for i, v := range call.Args {
			if b.opts.MaxStepCM > 0 && math.Abs(v.Num) > b.opts.MaxStepCM {
				return fail(out, StatusPreconditionFailed,
					fmt.Sprintf("%s=%g exceeds the %gcm step limit", call.Instr.Prim.Params[i].Name, v.Num, b.opts.MaxStepCM), nil)
			}
		}
	case minispec.OpRotate:
		if math.Abs(call.Args[0].Num) > 360 {
			return fail(out, StatusPreconditionFailed,
				fmt.Sprintf("rotation %g is outside [-360, 360]", call.Args[0].Num), nil)
		}
	case minispec.OpMoveTo:
		obj := call.Args[0].Obj
		x, y := obj.Box.Center()
		cmd.Args = []any{x, y, obj.Box.Width(), obj.Box.Height()}
	}
	if cmd.Args == nil {
		for _, v := range call.Args {
			if v.Type == minispec.TypeNumber {
				cmd.Args = append(cmd.Args, v.Num)
			} else {
				cmd.Args = append(cmd.Args, v.Str)
			}
		}
	}

	if err := b.execute(ctx, cmd); err != nil {
		switch {
		case errors.Is(err, robot.ErrPrecondition):
			return fail(out, StatusPreconditionFailed, err.Error(), err)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return fail(out, StatusActionError, fmt.Sprintf("%s timed out after %s", cmd.Primitive, b.opts.MotionTimeout), err)
		default:
			return fail(out, StatusActionError, err.Error(), err)
		}
	}

	out.Status = StatusOK
	out.Explanation = cmd.String() + " acknowledged"
	return out
}

// execute runs one robot call under the motion timeout and converts a
// panicking backend into an error.
func (b *Binder) execute(ctx context.Context, cmd robot.Command) (err error) {
	if b.opts.MotionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.MotionTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("robot %s panicked: %v", b.motion.Name(), r)
		}
	}()

	start := time.Now()
	err = b.motion.Execute(ctx, cmd)
	slog.Debug("motion call", "robot", b.motion.Name(), "command", cmd.String(), "duration", time.Since(start), "error", err)
	return err
}

func (b *Binder) invokeQuery(out Outcome, call Call, snap *scene.Snapshot) Outcome {
	if snap == nil {
		snap = scene.Empty()
	}
	if b.opts.MaxSceneAge > 0 {
		if snap.IsEmpty() {
			return fail(out, StatusPreconditionFailed, "no perception results are available yet", nil)
		}
		if age := snap.Age(b.opts.Now()); age > b.opts.MaxSceneAge {
			return fail(out, StatusPreconditionFailed,
				fmt.Sprintf("scene snapshot is stale (%s old)", age.Round(time.Millisecond)), nil)
		}
	}

	class := scene.NormalizeClass(call.Args[0].Str)
	if class == "" {
		return fail(out, StatusPreconditionFailed, "class label is empty", nil)
	}
	n := snap.Count(class)

	switch call.Instr.Op() {
	case minispec.OpFind:
		index := 0
		if len(call.Args) > 1 {
			f := call.Args[1].Num
			if f < 0 || f != math.Trunc(f) {
				return fail(out, StatusPreconditionFailed, fmt.Sprintf("index %g is not a non-negative integer", f), nil)
			}
			index = int(f)
		}
		obj, ok := snap.Lookup(class, index)
		if !ok {
			if n == 0 {
				return fail(out, StatusQueryEmpty, fmt.Sprintf("find(%s) returned no results", class), nil)
			}
			return fail(out, StatusQueryEmpty, fmt.Sprintf("find(%s, %d): only %d %s visible", class, index, n, class), nil)
		}
		v := ObjectValue(obj)
		out.Status = StatusOK
		out.Value = &v
		x, y := obj.Box.Center()
		out.Explanation = fmt.Sprintf("found %s #%d at (%.2f, %.2f) with confidence %.2f", class, obj.Index, x, y, obj.Confidence)
		return out

	case minispec.OpCount:
		if n == 0 {
			return fail(out, StatusQueryEmpty, fmt.Sprintf("count(%s) returned no results", class), nil)
		}
		v := NumberValue(float64(n))
		out.Status = StatusOK
		out.Value = &v
		out.Explanation = fmt.Sprintf("%d %s visible", n, class)
		return out
	}
	return fail(out, StatusPreconditionFailed, fmt.Sprintf("query %s has no handler", call.Instr.Op()), nil)
}

func invokeGoal(out Outcome, call Call) Outcome {
	out.Status = StatusOK
	if call.Instr.Op() == minispec.OpReport {
		v := call.Args[0]
		out.Value = &v
		out.Explanation = "reported: " + v.Str
		return out
	}
	out.Explanation = "goal marked complete"
	return out
}

// Safety commands the robot to the configured safe state.
func (b *Binder) Safety(ctx context.Context) error {
	cmd := robot.Command{Primitive: b.opts.SafetyPrimitive}
	if err := b.execute(ctx, cmd); err != nil {
		return fmt.Errorf("safety %s: %w", cmd.Primitive, err)
	}
	slog.Info("safety command acknowledged", "primitive", cmd.Primitive)
	return nil
}
