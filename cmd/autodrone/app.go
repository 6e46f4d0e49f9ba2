package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fuangela/AutoDrone/internal/action"
	"github.com/fuangela/AutoDrone/internal/config"
	"github.com/fuangela/AutoDrone/internal/dispatch"
	"github.com/fuangela/AutoDrone/internal/health"
	"github.com/fuangela/AutoDrone/internal/history"
	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/perception"
	"github.com/fuangela/AutoDrone/internal/perception/fixture"
	"github.com/fuangela/AutoDrone/internal/perception/yologrpc"
	"github.com/fuangela/AutoDrone/internal/perception/yolohttp"
	"github.com/fuangela/AutoDrone/internal/planner"
	localplanner "github.com/fuangela/AutoDrone/internal/planner/local"
	openaiplanner "github.com/fuangela/AutoDrone/internal/planner/openai"
	"github.com/fuangela/AutoDrone/internal/replan"
	"github.com/fuangela/AutoDrone/internal/robot"
	"github.com/fuangela/AutoDrone/internal/robot/httprobot"
	"github.com/fuangela/AutoDrone/internal/robot/virtual"
	"github.com/fuangela/AutoDrone/internal/scene"
	"github.com/fuangela/AutoDrone/internal/tts"
	"github.com/fuangela/AutoDrone/internal/tts/piper"
)

const transcribePrompt = "Spoken commands for a camera drone: take off, land, hover, move, turn, find, count, report."

// modelBackend is one language-model service that both plans and transcribes.
type modelBackend interface {
	planner.Planner
	planner.Transcriber
	Close() error
}

// app owns every long-lived component. Build it with newApp, release it
// with Close.
type app struct {
	cfg        *config.Config
	registry   *minispec.Registry
	cache      *scene.Cache
	motion     robot.Motion
	detector   perception.Detector // nil when perception is disabled
	pipeline   *perception.Pipeline
	model      modelBackend
	synth      tts.Synthesizer // nil when TTS is disabled
	history    *history.Store
	binder     *action.Binder
	controller *replan.Controller
	dispatcher *dispatch.Dispatcher
}

func newApp(cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, cache: scene.NewCache()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.registry, err = cfg.Engine.Registry(); err != nil {
		return nil, fmt.Errorf("primitives: %w", err)
	}
	if a.motion, err = newMotion(cfg.Robot); err != nil {
		return nil, err
	}
	if cfg.Perception.Enabled {
		if a.detector, err = newDetector(cfg.Perception); err != nil {
			return nil, err
		}
		a.pipeline = perception.NewPipeline(newFrames(cfg.Perception.Frames), a.detector, a.cache, perception.PipelineOptions{
			Interval: cfg.Perception.Interval,
			Workers:  cfg.Perception.Workers,
			Timeout:  cfg.Engine.PerceptionTimeout,
		})
	}
	if a.model, err = newModel(cfg.Planner, a.registry); err != nil {
		return nil, err
	}
	if cfg.TTS.Enabled {
		a.synth = piper.New(cfg.TTS.Piper)
		slog.Info("using piper TTS", "endpoint", cfg.TTS.Piper.Endpoint)
	}
	if a.history, err = history.Open(cfg.History.Path); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	a.binder = action.New(a.motion, action.Options{
		MotionTimeout:   cfg.Engine.MotionTimeout,
		MaxSceneAge:     cfg.Engine.MaxSceneAge,
		MaxStepCM:       cfg.Robot.MaxStepCM,
		SafetyPrimitive: cfg.Engine.SafetyPrimitive,
	})
	a.controller = replan.New(a.model, a.binder, a.cache, a.registry, replan.Options{
		Budget:            cfg.Engine.RetryBudget,
		PlannerTimeout:    cfg.Engine.PlannerTimeout,
		SafetyTimeout:     cfg.Engine.SafetyTimeout,
		CompletionOpcodes: cfg.Engine.CompletionOpcodes,
		OnAttempt:         logAttempt,
	})

	a.dispatcher = dispatch.New(a.model, a.controller, a.synth, a.history, dispatch.Options{
		TranscriberTimeout: cfg.Engine.TranscriberTimeout,
		SynthesizeTimeout:  cfg.Engine.SynthesizeTimeout,
		TranscribePrompt:   transcribePrompt,
	})
	return a, nil
}

func newMotion(cfg config.RobotConfig) (robot.Motion, error) {
	switch cfg.Backend {
	case "virtual":
		slog.Info("using virtual drone", "latency", cfg.Latency)
		return virtual.New(cfg.Latency), nil
	case "http":
		slog.Info("using robot bridge", "endpoint", cfg.Endpoint)
		return httprobot.New(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("unknown robot backend %q", cfg.Backend)
	}
}

func newDetector(cfg config.PerceptionConfig) (perception.Detector, error) {
	switch cfg.Backend {
	case "yolohttp":
		slog.Info("using YOLO over HTTP", "endpoint", cfg.Endpoint)
		return yolohttp.New(cfg.Endpoint, cfg.UserName, cfg.Confidence), nil
	case "yologrpc":
		slog.Info("using YOLO over gRPC", "target", cfg.Endpoint, "method", cfg.Method)
		d, err := yologrpc.New(cfg.Endpoint, cfg.Method, cfg.Confidence)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "fixture":
		slog.Info("using fixture detections", "path", cfg.Fixture)
		d, err := fixture.Load(cfg.Fixture)
		if err != nil {
			return nil, fmt.Errorf("fixture: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown perception backend %q", cfg.Backend)
	}
}

func newFrames(cfg config.FramesConfig) perception.FrameSource {
	switch cfg.Source {
	case "http":
		return perception.NewHTTPFrames(cfg.URL)
	case "file":
		return perception.NewFileFrames(cfg.Path)
	default:
		return perception.BlankFrames{}
	}
}

func newModel(cfg config.PlannerConfig, reg *minispec.Registry) (modelBackend, error) {
	switch cfg.Backend {
	case "openai":
		slog.Info("using OpenAI planner",
			"transcription_model", cfg.OpenAI.TranscriptionModel,
			"completion_model", cfg.OpenAI.CompletionModel)
		return openaiplanner.New(cfg.OpenAI, reg), nil
	case "local":
		slog.Info("using local planner",
			"whisper", cfg.Local.WhisperEndpoint,
			"llm", cfg.Local.LLMEndpoint,
			"model", cfg.Local.LLMModel)
		return localplanner.New(cfg.Local, reg), nil
	default:
		return nil, fmt.Errorf("unknown planner backend %q", cfg.Backend)
	}
}

// safeStop sends the safety command to an idle robot. A robot that is
// already down may refuse it; that is not an error.
func (a *app) safeStop() error {
	timeout := a.cfg.Engine.SafetyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := a.binder.Safety(ctx)
	if errors.Is(err, robot.ErrPrecondition) {
		slog.Debug("safety command refused, robot already safe", "error", err)
		return nil
	}
	return err
}

func logAttempt(at replan.Attempt) {
	attrs := []any{"attempt", at.Number, "frame", at.FrameID, "program", at.Program}
	if at.ParseError != "" {
		slog.Warn("program rejected", append(attrs, "error", at.ParseError)...)
		return
	}
	for _, o := range at.Outcomes {
		slog.Debug("instruction finished", "attempt", at.Number, "op", o.Op, "status", o.Status, "explanation", o.Explanation)
	}
	slog.Info("attempt finished", append(attrs, "instructions", len(at.Outcomes), "failed", at.Failed())...)
}

// registerChecks wires readiness: perception must be publishing fresh
// snapshots, and the history database must answer.
func (a *app) registerChecks(h *health.Server) {
	if a.pipeline != nil {
		maxAge := a.cfg.Engine.MaxSceneAge * 4
		if maxAge <= 0 {
			maxAge = a.cfg.Perception.Interval * 20
		}
		h.AddCheck("scene", health.SceneFresh(a.cache, maxAge, nil))
		h.AddCheck("detector", func(context.Context) error {
			if err := a.pipeline.LastError(); err != nil {
				return fmt.Errorf("last detection failed: %w", err)
			}
			return nil
		})
	}
	h.AddCheck("history", func(ctx context.Context) error {
		_, err := a.history.Recent(ctx, 1)
		return err
	})
}

// Close releases every component that was built. A mission still in
// flight is cancelled first so the drone gets its safety command while the
// robot link is open; an idle drone gets the safety command from here.
func (a *app) Close() error {
	var errs []error
	if a.dispatcher != nil {
		_, inFlight := a.dispatcher.Current()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.SafetyTimeout+time.Second)
		errs = append(errs, a.dispatcher.Shutdown(ctx))
		cancel()
		if !inFlight {
			errs = append(errs, a.safeStop())
		}
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.synth != nil {
		errs = append(errs, a.synth.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.motion != nil {
		errs = append(errs, a.motion.Close())
	}
	return errors.Join(errs...)
}
