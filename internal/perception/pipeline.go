package perception

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fuangela/AutoDrone/internal/scene"
)

// PipelineOptions tunes the background perception loop.
type PipelineOptions struct {
	// Interval between frame captures.
	Interval time.Duration

	// Workers caps the detector requests in flight. A tick that finds every
	// worker busy is skipped.
	Workers int

	// Timeout bounds each frame fetch plus detection. Zero means no timeout.
	Timeout time.Duration
}

// Stats counts pipeline activity since start.
type Stats struct {
	Frames    int64 `json:"frames"`
	Published int64 `json:"published"`
	Stale     int64 `json:"stale"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

// Pipeline captures frames, runs the detector and publishes snapshots.
type Pipeline struct {
	frames   FrameSource
	detector Detector
	cache    *scene.Cache
	opts     PipelineOptions

	seq       atomic.Int64
	published atomic.Int64
	stale     atomic.Int64
	skipped   atomic.Int64
	errs      atomic.Int64

	mu      sync.Mutex
	lastErr error
}

// NewPipeline creates a pipeline publishing into cache.
func NewPipeline(frames FrameSource, detector Detector, cache *scene.Cache, opts PipelineOptions) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{frames: frames, detector: detector, cache: cache, opts: opts}
}

// Run captures frames until ctx is cancelled, then waits for in-flight
// detections to finish. Detector failures are logged and counted; the cache
// keeps its previous snapshot.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("perception pipeline started",
		"detector", p.detector.Name(),
		"interval", p.opts.Interval,
		"workers", p.opts.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if !g.TryGo(func() error {
			p.step(gctx)
			return nil
		}) {
			p.skipped.Add(1)
		}

		select {
		case <-ctx.Done():
			err := g.Wait()
			slog.Info("perception pipeline stopped", "frames", p.seq.Load(), "published", p.published.Load())
			return err
		case <-ticker.C:
		}
	}
}

// step captures one frame and publishes its detections.
func (p *Pipeline) step(ctx context.Context) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	id := p.seq.Add(1)
	frame, err := p.frames.Next(ctx)
	if err != nil {
		p.fail(ctx, "frame capture failed", err)
		return
	}
	frame.ID = id
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}

	start := time.Now()
	dets, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.fail(ctx, "detection failed", err)
		return
	}

	if !p.cache.Publish(frame.ID, frame.CapturedAt, dets) {
		p.stale.Add(1)
		slog.Debug("dropped stale detection", "frame", frame.ID)
		return
	}
	p.published.Add(1)
	p.setErr(nil)
	slog.Debug("scene refreshed", "frame", frame.ID, "objects", len(dets), "duration", time.Since(start))
}

func (p *Pipeline) fail(ctx context.Context, msg string, err error) {
	// Shutdown is not a detector fault.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	p.errs.Add(1)
	p.setErr(err)
	slog.Warn(msg, "detector", p.detector.Name(), "error", err)
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// LastError returns the most recent capture or detection error, or nil once
// a later frame has been published.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Stats returns activity counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:    p.seq.Load(),
		Published: p.published.Load(),
		Stale:     p.stale.Load(),
		Skipped:   p.skipped.Load(),
		Errors:    p.errs.Load(),
	}
}
