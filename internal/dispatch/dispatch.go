// Package dispatch runs missions: it turns a request into a goal, hands the
// goal to the replanning controller, and speaks and records the result.
//
// The robot is exclusive, so at most one mission is in flight. A request
// that arrives while another mission runs is answered with StatusBusy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuangela/AutoDrone/internal/mission"
	"github.com/fuangela/AutoDrone/internal/planner"
	"github.com/fuangela/AutoDrone/internal/replan"
	"github.com/fuangela/AutoDrone/internal/tts"
)

var (
	// ErrBusy is reported when a mission is already in flight.
	ErrBusy = errors.New("another mission is in flight")

	// ErrNoMission is returned by Cancel when nothing is running.
	ErrNoMission = errors.New("no mission in flight")
)

// Achiever runs one goal to completion. *replan.Controller implements it.
type Achiever interface {
	Achieve(ctx context.Context, goal string) replan.Result
}

// Recorder stores finished missions. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, r *mission.Result) error
}

// Options tunes the dispatcher.
type Options struct {
	// TranscriberTimeout bounds speech-to-text. Zero means no timeout.
	TranscriberTimeout time.Duration

	// SynthesizeTimeout bounds report synthesis. Zero means no timeout.
	SynthesizeTimeout time.Duration

	// TranscribePrompt is passed to the transcriber to bias recognition
	// toward drone vocabulary.
	TranscribePrompt string

	Now func() time.Time
}

// Active describes the mission in flight.
type Active struct {
	ID        string    `json:"mission_id"`
	Source    string    `json:"source,omitempty"`
	Goal      string    `json:"goal,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Dispatcher is the mission entry point shared by every transport.
type Dispatcher struct {
	transcriber planner.Transcriber // nil disables audio requests
	controller  Achiever
	synthesizer tts.Synthesizer // nil if TTS is disabled
	history     Recorder        // nil disables recording
	opts        Options

	mu      sync.Mutex
	current *Active
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// New creates a Dispatcher. transcriber, synthesizer and history may be nil.
func New(transcriber planner.Transcriber, controller Achiever, synthesizer tts.Synthesizer, history Recorder, opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		transcriber: transcriber,
		controller:  controller,
		synthesizer: synthesizer,
		history:     history,
		opts:        opts,
	}
}

// resolveResponseMode falls back to text+audio when TTS is available and to
// text otherwise.
func (d *Dispatcher) resolveResponseMode(mode mission.ResponseMode) mission.ResponseMode {
	if mode.Valid() {
		return mode
	}
	if d.synthesizer != nil {
		return mission.ResponseModeTextAudio
	}
	return mission.ResponseModeText
}

// Handle runs one mission and blocks until it finishes. Failures are
// reported in the Result; the error return is reserved for transports.
func (d *Dispatcher) Handle(ctx context.Context, req *mission.Request) (*mission.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := d.opts.Now()
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = now
	}

	result := &mission.Result{
		MissionID: req.ID,
		Source:    req.Source,
		Language:  planner.NormalizeLanguage(req.Language),
		StartedAt: now,
	}
	logger := slog.With("mission_id", req.ID, "source", req.Source)

	missionCtx, ok := d.acquire(ctx, req)
	if !ok {
		result.Status = mission.StatusBusy
		result.Error = ErrBusy.Error()
		result.Finish(d.opts.Now())
		logger.Warn("mission rejected, robot busy")
		return result, nil
	}
	defer d.release()

	respMode := d.resolveResponseMode(req.ResponseMode)
	logger.Info("mission started", "response_mode", respMode, "audio", req.HasAudio())

	goal, err := d.goal(missionCtx, req, result, logger)
	if err != nil {
		result.Status = mission.StatusRejected
		result.Error = err.Error()
		logger.Warn("mission rejected", "error", err)
		d.finish(ctx, result, logger)
		return result, nil
	}
	result.Goal = goal
	d.setGoal(goal)

	res := d.controller.Achieve(missionCtx, goal)
	result.Status = mission.Status(res.Status)
	result.Report = res.Report
	result.Replans = res.Replans
	result.Attempts = res.Attempts
	if res.Err != nil {
		result.Error = res.Err.Error()
	}
	if res.SafetyErr != nil {
		logger.Error("safety command failed", "error", res.SafetyErr)
		if result.Error != "" {
			result.Error += "; "
		}
		result.Error += "safety command failed: " + res.SafetyErr.Error()
	}

	if respMode.WantText() {
		result.ResponseText = result.Report
	}
	if respMode.WantAudio() {
		d.speak(ctx, result, logger)
	}

	d.finish(ctx, result, logger)
	return result, nil
}

// goal returns the request's goal text, transcribing audio when present.
func (d *Dispatcher) goal(ctx context.Context, req *mission.Request, result *mission.Result, logger *slog.Logger) (string, error) {
	if !req.HasAudio() {
		goal := strings.TrimSpace(req.Text)
		if goal == "" {
			return "", errors.New("request has no audio and no text")
		}
		return goal, nil
	}
	if d.transcriber == nil {
		return "", errors.New("audio requests need a transcriber")
	}

	if d.opts.TranscriberTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.TranscriberTimeout)
		defer cancel()
	}

	start := time.Now()
	logger.Debug("transcribing audio", "content_type", req.ContentType, "bytes", len(req.Audio))
	res, err := d.transcriber.Transcribe(ctx, req.Audio, req.ContentType, planner.TranscribeOpts{
		Language: result.Language,
		Prompt:   d.opts.TranscribePrompt,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	result.Transcript = res.Text
	if res.Language != "" {
		result.Language = planner.NormalizeLanguage(res.Language)
	}
	logger.Info("transcription complete", "duration", time.Since(start), "language", result.Language, "text_length", len(res.Text))

	goal := strings.TrimSpace(res.Text)
	if goal == "" {
		return "", errors.New("transcription is empty")
	}
	return goal, nil
}

// speak synthesizes the report. Synthesis failures only cost the audio.
func (d *Dispatcher) speak(ctx context.Context, result *mission.Result, logger *slog.Logger) {
	text := result.Report
	if text == "" && result.Error != "" {
		text = result.Error
	}
	if d.synthesizer == nil || text == "" {
		return
	}
	if d.opts.SynthesizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.SynthesizeTimeout)
		defer cancel()
	}
	lang := result.Language
	if lang == "" {
		lang = "en"
	}
	synth, err := d.synthesizer.Synthesize(ctx, text, tts.SynthesizeOpts{Language: lang})
	if err != nil {
		logger.Warn("TTS synthesis failed, continuing without audio", "error", err)
		return
	}
	result.SetResponseAudioBytes(synth.Audio)
	result.ResponseContentType = synth.ContentType
	logger.Debug("TTS synthesis complete", "audio_bytes", len(synth.Audio))
}

func (d *Dispatcher) finish(ctx context.Context, result *mission.Result, logger *slog.Logger) {
	result.Finish(d.opts.Now())
	logger.Info("mission finished",
		"status", result.Status,
		"replans", result.Replans,
		"duration", result.Duration,
	)
	if d.history == nil {
		return
	}
	// A caller that hung up still gets its mission recorded.
	if err := d.history.Record(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("recording mission failed", "error", err)
	}
}

func (d *Dispatcher) acquire(ctx context.Context, req *mission.Request) (context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil || d.closed {
		return nil, false
	}
	missionCtx, cancel := context.WithCancel(ctx)
	d.current = &Active{ID: req.ID, Source: req.Source, StartedAt: req.ReceivedAt}
	d.cancel = cancel
	d.done = make(chan struct{})
	return missionCtx, true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		close(d.done)
	}
	d.current = nil
	d.cancel = nil
	d.done = nil
}

func (d *Dispatcher) setGoal(goal string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.Goal = goal
	}
}

// Cancel stops the mission in flight. The controller lands the robot (or
// issues the configured safety command) and the mission ends aborted.
func (d *Dispatcher) Cancel() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return "", ErrNoMission
	}
	slog.Info("mission cancel requested", "mission_id", d.current.ID)
	d.cancel()
	return d.current.ID, nil
}

// Current returns the mission in flight, if any.
func (d *Dispatcher) Current() (Active, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Active{}, false
	}
	return *d.current, true
}

// Shutdown refuses new missions, cancels the one in flight and waits for it
// to finish (including its safety command) or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	done := d.done
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
