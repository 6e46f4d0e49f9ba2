// Package interp executes programs one instruction at a time.
//
// Each instruction moves pending → dispatched → one of the terminal
// statuses. Execution stops at the first instruction whose status is not ok,
// since later instructions in a branch-free program assume earlier ones
// succeeded. The interpreter keeps no state between runs.
package interp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fuangela/AutoDrone/internal/action"
	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/scene"
)

// State is the lifecycle position of one instruction within a run.
type State string

const (
	StatePending    State = "pending"
	StateDispatched State = "dispatched"
	StateDone       State = "done"
)

// Invoker executes one resolved call. *action.Binder implements it.
type Invoker interface {
	Invoke(ctx context.Context, call action.Call, snap *scene.Snapshot) action.Outcome
}

// Interpreter runs programs against an Invoker.
type Interpreter struct {
	invoker Invoker
}

// New creates an Interpreter.
func New(invoker Invoker) *Interpreter {
	return &Interpreter{invoker: invoker}
}

// Run executes prog in order against the snapshot. It returns the outcomes
// of every instruction attempted, ending with the first non-ok one. The
// error is non-nil only when ctx was cancelled between instructions (or
// during one); the outcomes produced before that are still returned.
func (it *Interpreter) Run(ctx context.Context, prog *minispec.Program, snap *scene.Snapshot) ([]action.Outcome, error) {
	env := make(map[string]action.Value)
	outcomes := make([]action.Outcome, 0, prog.Len())

	for i := 0; i < prog.Len(); i++ {
		if err := ctx.Err(); err != nil {
			slog.Info("run cancelled at instruction boundary", "index", i, "remaining", prog.Len()-i)
			return outcomes, err
		}

		in := prog.At(i)
		logger := slog.With("index", i, "op", in.Op())
		logger.Debug("instruction state", "state", StatePending)

		args, err := resolve(in, env)
		var out action.Outcome
		if err != nil {
			out = action.Outcome{
				Instruction: in.String(),
				Op:          in.Op(),
				Status:      action.StatusPreconditionFailed,
				Explanation: err.Error(),
			}
		} else {
			logger.Debug("instruction state", "state", StateDispatched)
			out = it.invoker.Invoke(ctx, action.Call{Instr: in, Args: args}, snap)
		}
		out.Index = i
		outcomes = append(outcomes, out)
		logger.Debug("instruction state", "state", StateDone, "status", out.Status, "explanation", out.Explanation)

		if !out.OK() {
			if err := ctx.Err(); err != nil {
				return outcomes, err
			}
			return outcomes, nil
		}
		if in.Bind != "" && out.Value != nil {
			env[in.Bind] = *out.Value
		}
	}
	return outcomes, nil
}

func resolve(in minispec.Instruction, env map[string]action.Value) ([]action.Value, error) {
	args := make([]action.Value, len(in.Args))
	for i, a := range in.Args {
		switch a.Kind {
		case minispec.ArgNumber:
			args[i] = action.NumberValue(a.Num)
		case minispec.ArgString:
			args[i] = action.StringValue(a.Str)
		case minispec.ArgRef:
			v, ok := env[a.Str]
			if !ok {
				return nil, fmt.Errorf("%s has no value", a.Str)
			}
			args[i] = v
		default:
			return nil, fmt.Errorf("argument %d has unknown kind", i)
		}
	}
	return args, nil
}
