package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-runewidth"

	"github.com/fuangela/AutoDrone/internal/mission"
)

const consoleHelp = `Type a goal in plain words, or one of:
  voice <file>   send a recorded spoken goal
  scene          what the drone sees right now
  status         mission in flight and perception counters
  history [n]    recent missions
  help           this text
  quit           land (if flying) and exit
Ctrl-C during a mission stops it; the drone performs its safety command.`

// Display widths, in terminal cells, of the history columns.
const (
	historyGoalWidth   = 48
	historyReportWidth = 60
)

// console is the operator REPL. It runs one mission at a time in the
// foreground.
type console struct {
	app *app
	out io.Writer

	// interrupts delivers Ctrl-C while a mission runs.
	interrupts <-chan os.Signal
}

func runInteractive(ctx context.Context, a *app) int {
	historyFile := ""
	if dir, err := os.UserCacheDir(); err == nil {
		_ = os.MkdirAll(filepath.Join(dir, "autodrone"), 0o755)
		historyFile = filepath.Join(dir, "autodrone", "console_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "drone> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("voice"),
			readline.PcItem("scene"),
			readline.PcItem("status"),
			readline.PcItem("history"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "console:", err)
		return 1
	}
	defer rl.Close()

	stop := startPerception(ctx, a)
	defer stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	c := &console{app: a, out: rl.Stdout(), interrupts: sig}
	fmt.Fprintf(c.out, "autodrone %s, %s drone. Type 'help' for commands.\n", version, a.motion.Name())

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			break
		}
		if c.exec(ctx, line) {
			break
		}
	}
	return 0
}

// exec runs one console line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "scene":
		c.printScene()
	case "status":
		c.printStatus()
	case "history":
		c.printHistory(ctx, arg)
	case "voice":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: voice <file>")
			return false
		}
		req, err := oneShotRequest("", arg)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return false
		}
		req.Source = "console"
		c.runMission(ctx, req)
	default:
		c.runMission(ctx, &mission.Request{Source: "console", Text: line})
	}
	return false
}

// runMission blocks until the mission ends. Ctrl-C cancels it.
func (c *console) runMission(ctx context.Context, req *mission.Request) {
	done := make(chan *mission.Result, 1)
	go func() {
		res, _ := c.app.dispatcher.Handle(ctx, req)
		done <- res
	}()

	for {
		select {
		case res := <-done:
			printResult(c.out, res)
			return
		case <-c.interrupts:
			if id, err := c.app.dispatcher.Cancel(); err == nil {
				fmt.Fprintf(c.out, "stopping mission %s...\n", id)
			}
		}
	}
}

func (c *console) printScene() {
	if c.app.pipeline == nil {
		fmt.Fprintln(c.out, "perception is disabled")
		return
	}
	snap := c.app.cache.Load()
	if snap.IsEmpty() {
		fmt.Fprintln(c.out, "no perception results yet")
		return
	}
	fmt.Fprintf(c.out, "frame %d, %s old\n", snap.FrameID(), snap.Age(time.Now()).Round(time.Millisecond))
	classes := snap.Classes()
	if len(classes) == 0 {
		fmt.Fprintln(c.out, "  nothing in view")
	}
	for _, class := range classes {
		for i := 0; i < snap.Count(class); i++ {
			o, _ := snap.Lookup(class, i)
			x, y := o.Box.Center()
			fmt.Fprintf(c.out, "  %s[%d] %.0f%% at (%.2f, %.2f)\n", class, i, o.Confidence*100, x, y)
		}
	}
}

func (c *console) printStatus() {
	if active, ok := c.app.dispatcher.Current(); ok {
		fmt.Fprintf(c.out, "mission %s: %q (running %s)\n", active.ID, active.Goal, time.Since(active.StartedAt).Round(time.Second))
	} else {
		fmt.Fprintln(c.out, "idle")
	}
	if c.app.pipeline != nil {
		st := c.app.pipeline.Stats()
		fmt.Fprintf(c.out, "perception: %d frames, %d published, %d stale, %d skipped, %d errors\n",
			st.Frames, st.Published, st.Stale, st.Skipped, st.Errors)
		if err := c.app.pipeline.LastError(); err != nil {
			fmt.Fprintf(c.out, "last detector error: %v\n", err)
		}
	}
}

func (c *console) printHistory(ctx context.Context, arg string) {
	limit := 10
	if arg != "" {
		if _, err := fmt.Sscanf(arg, "%d", &limit); err != nil || limit <= 0 {
			fmt.Fprintln(c.out, "usage: history [n]")
			return
		}
	}
	past, err := c.app.history.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	if len(past) == 0 {
		fmt.Fprintln(c.out, "no missions yet")
		return
	}
	for _, r := range past {
		fmt.Fprintf(c.out, "%s  %s %q -> %s\n",
			r.StartedAt.Local().Format("15:04:05"),
			runewidth.FillRight(string(r.Status), 9),
			runewidth.Truncate(r.Goal, historyGoalWidth, "..."),
			runewidth.Truncate(r.Report, historyReportWidth, "..."))
	}
}
