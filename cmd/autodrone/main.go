// Autodrone turns spoken or typed goals into drone flights. A language
// model writes a short program, the engine runs it against live perception,
// and failed attempts are fed back to the model until the goal is met or
// the retry budget runs out.
//
// Usage:
//
//	autodrone [flags]                       run the daemon (HTTP + gRPC + health)
//	autodrone --goal "find a cup"           run one goal and exit
//	autodrone --audio request.wav           run one spoken goal and exit
//	autodrone --interactive                 operator console
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/fuangela/AutoDrone/internal/config"
	"github.com/fuangela/AutoDrone/internal/health"
	"github.com/fuangela/AutoDrone/internal/mission"
	"github.com/fuangela/AutoDrone/internal/scene"
	"github.com/fuangela/AutoDrone/internal/transport"
	grpctransport "github.com/fuangela/AutoDrone/internal/transport/grpc"
	httptransport "github.com/fuangela/AutoDrone/internal/transport/http"
)

// version is set at build time via ldflags.
var version = "dev"

// @title       AutoDrone API
// @version     1.0
// @description Submit spoken or typed goals to a drone and watch it plan, act and replan.
// @BasePath    /
func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/autodrone.yaml)")
	goal := flag.String("goal", "", "run one goal and exit")
	audioFile := flag.String("audio", "", "run one spoken goal from an audio file and exit")
	interactive := flag.Bool("interactive", false, "start the operator console")
	flag.Parse()

	if *showVersion {
		fmt.Printf("autodrone %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	config.SetupLogging(cfg.Logging)
	slog.Info("autodrone starting", "version", version)

	// The console handles Ctrl-C itself: it stops the mission, not the process.
	signals := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	if *interactive {
		signals = []os.Signal{syscall.SIGTERM}
	}
	ctx, cancel := signal.NotifyContext(context.Background(), signals...)
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	switch {
	case *goal != "" || *audioFile != "":
		req, err := oneShotRequest(*goal, *audioFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return runOnce(ctx, a, req, os.Stdout)
	case *interactive:
		return runInteractive(ctx, a)
	default:
		if err := runDaemon(ctx, a); err != nil {
			slog.Error("daemon failed", "error", err)
			return 1
		}
		return 0
	}
}

// runDaemon serves missions until ctx is cancelled or a component fails.
func runDaemon(ctx context.Context, a *app) error {
	var transports []transport.Transport
	if a.cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(a.cfg.Transports.GRPC.Port))
	}
	if a.cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(a.cfg.Transports.HTTP.Port, httptransport.Options{
			History:      a.history,
			HistoryLimit: a.cfg.History.Limit,
			Scene:        a.cache,
		}))
	}
	if len(transports) == 0 {
		return errors.New("no transports enabled; enable at least one in config")
	}

	healthServer := health.New(a.cfg.Server.HealthPort)
	a.registerChecks(healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthServer.ListenAndServe(gctx) })
	g.Go(func() error {
		// Stop the mission in flight before the transports drain so blocked
		// submitters get their result. An idle drone is landed by app.Close.
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.SafetyTimeout+time.Second)
		defer cancel()
		if err := a.dispatcher.Shutdown(shutdownCtx); err != nil {
			slog.Warn("mission did not stop in time", "error", err)
		}
		return nil
	})
	if a.pipeline != nil {
		g.Go(func() error { return a.pipeline.Run(gctx) })
	}
	for _, t := range transports {
		t := t
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx, a.dispatcher); err != nil {
				return fmt.Errorf("%s transport: %w", t.Name(), err)
			}
			return nil
		})
	}

	healthServer.SetReady(true)
	slog.Info("autodrone ready",
		"transports", len(transports),
		"health_port", a.cfg.Server.HealthPort,
		"perception", a.pipeline != nil)

	err := g.Wait()
	slog.Info("autodrone stopped")
	return err
}

// startPerception runs the pipeline in the background for the one-shot and
// console modes and waits briefly for a first snapshot.
func startPerception(ctx context.Context, a *app) (stop func()) {
	if a.pipeline == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.pipeline.Run(ctx); err != nil {
			slog.Error("perception stopped", "error", err)
		}
	}()
	waitForScene(ctx, a.cache, 10*a.cfg.Perception.Interval)
	return func() {
		cancel()
		<-done
	}
}

func waitForScene(ctx context.Context, cache *scene.Cache, limit time.Duration) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for cache.Load().IsEmpty() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			slog.Warn("no perception results yet, continuing without", "waited", limit)
			return
		case <-tick.C:
		}
	}
}

func oneShotRequest(goal, audioFile string) (*mission.Request, error) {
	req := &mission.Request{Source: "cli", Text: goal}
	if audioFile == "" {
		return req, nil
	}
	audio, err := os.ReadFile(audioFile)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	req.Audio = audio
	req.ContentType = audioContentType(audioFile)
	return req, nil
}

func audioContentType(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" || !strings.HasPrefix(ct, "audio/") {
		return "audio/wav"
	}
	return ct
}

// runOnce runs a single mission. The exit code is 0 on success, 2 when the
// retry budget ran out and 1 otherwise.
func runOnce(ctx context.Context, a *app, req *mission.Request, out io.Writer) int {
	stop := startPerception(ctx, a)
	defer stop()

	res, err := a.dispatcher.Handle(ctx, req)
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return 1
	}
	printResult(out, res)
	switch res.Status {
	case mission.StatusSucceeded:
		return 0
	case mission.StatusExhausted:
		return 2
	default:
		return 1
	}
}

func printResult(w io.Writer, res *mission.Result) {
	if res.Transcript != "" {
		fmt.Fprintf(w, "heard:   %s\n", res.Transcript)
	}
	for _, at := range res.Attempts {
		fmt.Fprintf(w, "attempt %d: %s\n", at.Number, at.Program)
		if at.ParseError != "" {
			fmt.Fprintf(w, "  rejected: %s\n", at.ParseError)
		}
		for _, o := range at.Outcomes {
			fmt.Fprintf(w, "  %s\n", o.Summary())
		}
	}
	fmt.Fprintf(w, "status:  %s (%d replans, %s)\n", res.Status, res.Replans, res.Duration.Round(time.Millisecond))
	if res.Report != "" {
		fmt.Fprintf(w, "report:  %s\n", res.Report)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", res.Error)
	}
}
