// Package replan implements the plan-execute-replan loop.
//
// A Controller asks the planner for a program, runs it against a scene
// snapshot taken once per attempt, and replans with a summary of what went
// wrong until the program finishes with a completion opcode or the retry
// budget is spent. Planner failures, robot disconnects and cancellation
// abort the loop after the robot has been sent the safety command.
package replan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fuangela/AutoDrone/internal/action"
	"github.com/fuangela/AutoDrone/internal/interp"
	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/planner"
	"github.com/fuangela/AutoDrone/internal/robot"
	"github.com/fuangela/AutoDrone/internal/scene"
)

// Status is the final state of one Achieve call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
)

const (
	// DefaultBudget is the number of replans allowed after the first attempt.
	DefaultBudget = 3

	defaultContextAttempts = 3
	defaultSafetyTimeout   = 10 * time.Second
)

var (
	// ErrPlannerUnavailable wraps planner failures and timeouts.
	ErrPlannerUnavailable = errors.New("planner unavailable")

	// ErrEmptyGoal is returned for a blank goal.
	ErrEmptyGoal = errors.New("goal is empty")
)

// SceneSource yields the latest perception snapshot. *scene.Cache implements it.
type SceneSource interface {
	Load() *scene.Snapshot
}

// Binder executes single calls and owns the safety command.
// *action.Binder implements it.
type Binder interface {
	interp.Invoker
	Safety(ctx context.Context) error
}

// Attempt is one program and what happened when it ran.
type Attempt struct {
	Number     int              `json:"number"`
	Program    string           `json:"program"`
	ParseError string           `json:"parse_error,omitempty"`
	FrameID    int64            `json:"frame_id"`
	Outcomes   []action.Outcome `json:"outcomes"`
}

// Failed reports whether the attempt did not finish the goal.
func (a Attempt) Failed() bool {
	if a.ParseError != "" || len(a.Outcomes) == 0 {
		return true
	}
	return !a.Outcomes[len(a.Outcomes)-1].OK()
}

// Result is the outcome of one goal.
type Result struct {
	Goal     string    `json:"goal"`
	Status   Status    `json:"status"`
	Attempts []Attempt `json:"attempts"`
	Replans  int       `json:"replans"`
	Report   string    `json:"report"`

	// Err is the abort cause; nil unless Status is aborted.
	Err error `json:"-"`

	// SafetyErr is set when the safety command itself failed during abort.
	SafetyErr error `json:"-"`
}

// Options tunes the controller.
type Options struct {
	// Budget is the maximum number of replans per goal.
	Budget int

	// PlannerTimeout bounds each planning call. Zero means no timeout.
	PlannerTimeout time.Duration

	// SafetyTimeout bounds the safety command issued on abort.
	SafetyTimeout time.Duration

	// CompletionOpcodes are the opcodes that end a successful program.
	// Defaults to done, report and land.
	CompletionOpcodes []string

	// ContextAttempts caps how many earlier attempts are summarized for the
	// planner. Defaults to 3.
	ContextAttempts int

	// OnAttempt, if set, is called after each attempt finishes.
	OnAttempt func(Attempt)
}

// Controller runs goals. It is not safe for concurrent Achieve calls; the
// robot is exclusive, so callers serialize missions.
type Controller struct {
	planner  planner.Planner
	binder   Binder
	interp   *interp.Interpreter
	scene    SceneSource
	registry *minispec.Registry
	opts     Options
}

// New creates a Controller. A nil registry means the built-in primitives.
func New(p planner.Planner, b Binder, src SceneSource, reg *minispec.Registry, opts Options) *Controller {
	if reg == nil {
		reg = minispec.DefaultRegistry()
	}
	if opts.Budget < 0 {
		opts.Budget = 0
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = defaultSafetyTimeout
	}
	if len(opts.CompletionOpcodes) == 0 {
		opts.CompletionOpcodes = []string{minispec.OpDone, minispec.OpReport, minispec.OpLand}
	}
	if opts.ContextAttempts <= 0 {
		opts.ContextAttempts = defaultContextAttempts
	}
	return &Controller{
		planner:  p,
		binder:   b,
		interp:   interp.New(b),
		scene:    src,
		registry: reg,
		opts:     opts,
	}
}

// Achieve drives one goal to a final status. Cancelling ctx stops the
// current program at the next instruction boundary and aborts.
func (c *Controller) Achieve(ctx context.Context, goal string) Result {
	goal = strings.TrimSpace(goal)
	res := Result{Goal: goal}
	if goal == "" {
		// Nothing was attempted, so the robot is left where it is.
		res.Status = StatusAborted
		res.Err = ErrEmptyGoal
		res.Report = "aborted: " + ErrEmptyGoal.Error()
		slog.Warn("goal aborted", "cause", ErrEmptyGoal)
		return res
	}

	var replanContext string
	for n := 1; ; n++ {
		logger := slog.With("goal", goal, "attempt", n)

		if err := ctx.Err(); err != nil {
			return c.abort(ctx, res, err)
		}

		text, err := c.plan(ctx, planner.PlanRequest{Goal: goal, Context: replanContext})
		if err != nil {
			if ctx.Err() != nil {
				return c.abort(ctx, res, ctx.Err())
			}
			return c.abort(ctx, res, fmt.Errorf("%w: %w", ErrPlannerUnavailable, err))
		}

		// One snapshot per attempt; no instruction sees a later frame.
		snap := c.scene.Load()
		at := Attempt{Number: n, Program: text, FrameID: snap.FrameID()}

		prog, perr := c.registry.Parse(text)
		if perr != nil {
			at.ParseError = perr.Error()
			logger.Warn("planner emitted an invalid program", "error", perr)
		} else {
			at.Program = prog.String()
			outcomes, runErr := c.interp.Run(ctx, prog, snap)
			at.Outcomes = outcomes
			if runErr != nil {
				res.Attempts = append(res.Attempts, at)
				c.notify(at)
				return c.abort(ctx, res, runErr)
			}
			if cause := disconnected(outcomes); cause != nil {
				res.Attempts = append(res.Attempts, at)
				c.notify(at)
				return c.abort(ctx, res, cause)
			}
			if c.completed(prog, outcomes) {
				res.Attempts = append(res.Attempts, at)
				c.notify(at)
				res.Status = StatusSucceeded
				res.Report = successReport(outcomes)
				logger.Info("goal achieved", "replans", res.Replans)
				return res
			}
		}

		res.Attempts = append(res.Attempts, at)
		c.notify(at)
		logger.Info("attempt failed", "explanation", lastExplanation(at, c.opts.CompletionOpcodes))

		if res.Replans >= c.opts.Budget {
			res.Status = StatusExhausted
			res.Report = exhaustedReport(at, c.opts.CompletionOpcodes)
			logger.Warn("retry budget exhausted", "budget", c.opts.Budget)
			return res
		}
		res.Replans++
		replanContext = c.BuildContext(res.Attempts, c.scene.Load())
	}
}

func (c *Controller) plan(ctx context.Context, req planner.PlanRequest) (string, error) {
	if c.opts.PlannerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PlannerTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := c.planner.Plan(ctx, req)
	slog.Debug("planner call", "backend", c.planner.Name(), "duration", time.Since(start), "replan", req.Context != "", "error", err)
	return text, err
}

// completed reports whether every instruction ran and the last one is a
// completion opcode.
func (c *Controller) completed(prog *minispec.Program, outcomes []action.Outcome) bool {
	if len(outcomes) != prog.Len() || len(outcomes) == 0 {
		return false
	}
	last := outcomes[len(outcomes)-1]
	return last.OK() && slices.Contains(c.opts.CompletionOpcodes, last.Op)
}

func (c *Controller) abort(ctx context.Context, res Result, cause error) Result {
	res.Status = StatusAborted
	res.Err = cause
	res.Report = "aborted: " + cause.Error()

	safetyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SafetyTimeout)
	defer cancel()
	if err := c.binder.Safety(safetyCtx); err != nil {
		res.SafetyErr = err
		slog.Error("safety command failed", "error", err, "cause", cause)
	}
	slog.Warn("goal aborted", "goal", res.Goal, "cause", cause, "attempts", len(res.Attempts))
	return res
}

func (c *Controller) notify(at Attempt) {
	if c.opts.OnAttempt != nil {
		c.opts.OnAttempt(at)
	}
}

func disconnected(outcomes []action.Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil && errors.Is(o.Err, robot.ErrDisconnected) {
			return o.Err
		}
	}
	return nil
}

// BuildContext summarizes the most recent attempts for the planner: each
// program with one line per outcome, then the classes currently visible.
func (c *Controller) BuildContext(attempts []Attempt, snap *scene.Snapshot) string {
	if len(attempts) > c.opts.ContextAttempts {
		attempts = attempts[len(attempts)-c.opts.ContextAttempts:]
	}

	var sb strings.Builder
	sb.WriteString("Earlier attempts did not complete the request. Write a new program that avoids these problems.\n")
	for _, at := range attempts {
		fmt.Fprintf(&sb, "\nAttempt %d:\n", at.Number)
		fmt.Fprintf(&sb, "program: %s\n", oneLine(at.Program))
		if at.ParseError != "" {
			fmt.Fprintf(&sb, "  rejected: %s\n", at.ParseError)
			continue
		}
		for _, o := range at.Outcomes {
			fmt.Fprintf(&sb, "  %s\n", o.Summary())
		}
		if !at.Failed() {
			fmt.Fprintf(&sb, "  the program did not end with one of: %s\n", strings.Join(c.opts.CompletionOpcodes, ", "))
		}
	}

	sb.WriteString("\nCurrently visible: ")
	sb.WriteString(describeScene(snap))
	sb.WriteString("\n")
	return sb.String()
}

func describeScene(snap *scene.Snapshot) string {
	if snap == nil || snap.IsEmpty() {
		return "no perception results yet"
	}
	classes := snap.Classes()
	if len(classes) == 0 {
		return "nothing"
	}
	parts := make([]string, len(classes))
	for i, class := range classes {
		parts[i] = fmt.Sprintf("%s x%d", class, snap.Count(class))
	}
	return strings.Join(parts, ", ")
}

func oneLine(program string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(program, "\n", "; ")), " ")
}

func lastExplanation(at Attempt, completion []string) string {
	if at.ParseError != "" {
		return at.ParseError
	}
	if len(at.Outcomes) == 0 {
		return "empty program"
	}
	last := at.Outcomes[len(at.Outcomes)-1]
	if last.OK() {
		return "program did not end with one of: " + strings.Join(completion, ", ")
	}
	return last.Summary()
}

func exhaustedReport(at Attempt, completion []string) string {
	if at.ParseError != "" || len(at.Outcomes) == 0 {
		return lastExplanation(at, completion)
	}
	lines := make([]string, 0, len(at.Outcomes)+1)
	for _, o := range at.Outcomes {
		lines = append(lines, o.Summary())
	}
	if !at.Failed() {
		lines = append(lines, lastExplanation(at, completion))
	}
	return strings.Join(lines, "\n")
}

func successReport(outcomes []action.Outcome) string {
	for i := len(outcomes) - 1; i >= 0; i-- {
		o := outcomes[i]
		if o.Op == minispec.OpReport && o.Value != nil {
			return o.Value.Str
		}
	}
	return "goal completed"
}
