package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuangela/AutoDrone/internal/mission"
	"github.com/fuangela/AutoDrone/internal/planner"
	"github.com/fuangela/AutoDrone/internal/replan"
	"github.com/fuangela/AutoDrone/internal/tts"
)

// fakeController succeeds immediately unless block is set, in which case it
// waits for cancellation and reports aborted.
type fakeController struct {
	mu      sync.Mutex
	goals   []string
	block   bool
	started chan struct{}
}

func (c *fakeController) Achieve(ctx context.Context, goal string) replan.Result {
	c.mu.Lock()
	c.goals = append(c.goals, goal)
	c.mu.Unlock()
	if c.block {
		if c.started != nil {
			close(c.started)
		}
		<-ctx.Done()
		return replan.Result{Goal: goal, Status: replan.StatusAborted, Report: "mission cancelled", Err: ctx.Err()}
	}
	return replan.Result{Goal: goal, Status: replan.StatusSucceeded, Report: "found the cup", Replans: 1}
}

type fakeTranscriber struct {
	text, lang string
	err        error
	gotOpts    planner.TranscribeOpts
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string, opts planner.TranscribeOpts) (*planner.TranscribeResult, error) {
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &planner.TranscribeResult{Text: f.text, Language: f.lang}, nil
}

type fakeSynth struct {
	err     error
	gotText string
	gotLang string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	f.gotText, f.gotLang = text, opts.Language
	if f.err != nil {
		return nil, f.err
	}
	return &tts.SynthesizeResult{Audio: []byte("RIFFWAVE"), ContentType: "audio/wav"}, nil
}

func (f *fakeSynth) Close() error { return nil }

type memHistory struct {
	mu      sync.Mutex
	records []mission.Result
}

func (h *memHistory) Record(_ context.Context, r *mission.Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *r)
	return nil
}

func (h *memHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestHandle_TextMission(t *testing.T) {
	ctl := &fakeController{}
	hist := &memHistory{}
	d := New(nil, ctl, nil, hist, Options{})

	res, err := d.Handle(context.Background(), &mission.Request{Source: "test", Text: "  find a cup "})
	require.NoError(t, err)

	assert.NotEmpty(t, res.MissionID)
	assert.Equal(t, mission.StatusSucceeded, res.Status)
	assert.Equal(t, "find a cup", res.Goal)
	assert.Equal(t, "found the cup", res.ResponseText, "text is the default without TTS")
	assert.Empty(t, res.ResponseAudio)
	assert.Equal(t, 1, res.Replans)
	assert.Equal(t, []string{"find a cup"}, ctl.goals)
	assert.Equal(t, 1, hist.len())

	_, busy := d.Current()
	assert.False(t, busy, "slot is released after the mission")
}

func TestHandle_AudioMission(t *testing.T) {
	tr := &fakeTranscriber{text: "trouve une tasse", lang: "french"}
	synth := &fakeSynth{}
	d := New(tr, &fakeController{}, synth, nil, Options{TranscribePrompt: "drone"})

	res, err := d.Handle(context.Background(), &mission.Request{Audio: []byte("wav"), ContentType: "audio/wav"})
	require.NoError(t, err)

	assert.Equal(t, "trouve une tasse", res.Transcript)
	assert.Equal(t, "trouve une tasse", res.Goal)
	assert.Equal(t, "fr", res.Language)
	assert.Equal(t, "drone", tr.gotOpts.Prompt)

	audio, err := base64.StdEncoding.DecodeString(res.ResponseAudio)
	require.NoError(t, err)
	assert.Equal(t, "RIFFWAVE", string(audio))
	assert.Equal(t, "audio/wav", res.ResponseContentType)
	assert.Equal(t, "found the cup", res.ResponseText)
	assert.Equal(t, "fr", synth.gotLang)
}

func TestHandle_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		tr      planner.Transcriber
		req     mission.Request
		wantErr string
	}{
		{"empty request", nil, mission.Request{Text: "   "}, "no audio and no text"},
		{"audio without transcriber", nil, mission.Request{Audio: []byte("x")}, "need a transcriber"},
		{"transcription error", &fakeTranscriber{err: errors.New("whisper down")}, mission.Request{Audio: []byte("x")}, "whisper down"},
		{"silent audio", &fakeTranscriber{text: " "}, mission.Request{Audio: []byte("x")}, "transcription is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctl := &fakeController{}
			hist := &memHistory{}
			d := New(tc.tr, ctl, nil, hist, Options{})

			res, err := d.Handle(context.Background(), &tc.req)
			require.NoError(t, err)
			assert.Equal(t, mission.StatusRejected, res.Status)
			assert.Contains(t, res.Error, tc.wantErr)
			assert.Empty(t, ctl.goals, "controller is never reached")
			assert.Equal(t, 1, hist.len())
		})
	}
}

func TestHandle_ResponseModes(t *testing.T) {
	cases := []struct {
		mode      mission.ResponseMode
		wantText  bool
		wantAudio bool
	}{
		{mission.ResponseModeNone, false, false},
		{mission.ResponseModeText, true, false},
		{mission.ResponseModeAudio, false, true},
		{mission.ResponseModeTextAudio, true, true},
		{"", true, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			d := New(nil, &fakeController{}, &fakeSynth{}, nil, Options{})
			res, err := d.Handle(context.Background(), &mission.Request{Text: "go", ResponseMode: tc.mode})
			require.NoError(t, err)
			assert.Equal(t, tc.wantText, res.ResponseText != "")
			assert.Equal(t, tc.wantAudio, res.ResponseAudio != "")
		})
	}
}

func TestHandle_TTSFailureKeepsText(t *testing.T) {
	d := New(nil, &fakeController{}, &fakeSynth{err: errors.New("piper offline")}, nil, Options{})
	res, err := d.Handle(context.Background(), &mission.Request{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusSucceeded, res.Status)
	assert.Equal(t, "found the cup", res.ResponseText)
	assert.Empty(t, res.ResponseAudio)
}

func TestHandle_BusyAndCancel(t *testing.T) {
	ctl := &fakeController{block: true, started: make(chan struct{})}
	hist := &memHistory{}
	d := New(nil, ctl, nil, hist, Options{})

	_, err := d.Cancel()
	assert.ErrorIs(t, err, ErrNoMission)

	done := make(chan *mission.Result, 1)
	go func() {
		res, _ := d.Handle(context.Background(), &mission.Request{ID: "m-1", Text: "patrol"})
		done <- res
	}()
	<-ctl.started

	active, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, "m-1", active.ID)
	assert.Equal(t, "patrol", active.Goal)

	busy, err := d.Handle(context.Background(), &mission.Request{Text: "land"})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusBusy, busy.Status)

	id, err := d.Cancel()
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)

	select {
	case res := <-done:
		assert.Equal(t, mission.StatusAborted, res.Status)
		assert.Equal(t, context.Canceled.Error(), res.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("mission did not stop after Cancel")
	}
	assert.Equal(t, 1, hist.len(), "busy rejections are not recorded")
}

func TestHandle_RecordsAfterCallerGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hist := &memHistory{}
	d := New(nil, &fakeController{}, nil, hist, Options{})
	_, err := d.Handle(ctx, &mission.Request{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, 1, hist.len())
}

func TestShutdown(t *testing.T) {
	ctl := &fakeController{block: true, started: make(chan struct{})}
	d := New(nil, ctl, nil, nil, Options{})

	done := make(chan *mission.Result, 1)
	go func() {
		res, _ := d.Handle(context.Background(), &mission.Request{Text: "patrol"})
		done <- res
	}()
	<-ctl.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	_, running := d.Current()
	assert.False(t, running)
	assert.Equal(t, mission.StatusAborted, (<-done).Status)

	res, err := d.Handle(context.Background(), &mission.Request{Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, mission.StatusBusy, res.Status, "no new missions after shutdown")
}
