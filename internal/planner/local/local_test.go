package local

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuangela/AutoDrone/internal/config"
	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/planner"
)

func TestPlan_OllamaGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "takeoff()\nland()\n", "done": true})
	}))
	defer srv.Close()

	c := New(config.LocalConfig{LLMEndpoint: srv.URL + "/api/generate"}, minispec.DefaultRegistry())
	prog, err := c.Plan(context.Background(), planner.PlanRequest{Goal: "hop"})
	require.NoError(t, err)
	assert.Equal(t, "takeoff()\nland()", prog)

	assert.Equal(t, "llama3.2", got["model"])
	assert.Equal(t, false, got["stream"])
	assert.Contains(t, got["system"], "move(dx: number, dy: number, dz: number)")
	assert.Equal(t, "request: hop", got["prompt"])
}

func TestPlan_OpenAICompatible(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"done()"}}]}`)
	}))
	defer srv.Close()

	c := New(config.LocalConfig{LLMEndpoint: srv.URL + "/v1/chat/completions", LLMModel: "qwen2.5"}, minispec.DefaultRegistry())
	prog, err := c.Plan(context.Background(), planner.PlanRequest{Goal: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, "done()", prog)
	assert.Equal(t, "qwen2.5", got["model"])
	assert.Len(t, got["messages"], 2)
}

func TestPlan_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response":"<think>hmm</think>"}`)
	}))
	defer srv.Close()

	c := New(config.LocalConfig{LLMEndpoint: srv.URL + "/api/generate"}, minispec.DefaultRegistry())
	_, err := c.Plan(context.Background(), planner.PlanRequest{Goal: "x"})
	assert.Error(t, err)
}

func TestTranscribe_ASR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/asr", r.URL.Path)
		assert.Equal(t, "transcribe", r.URL.Query().Get("task"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		assert.Equal(t, "true", r.URL.Query().Get("vad_filter"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("audio_file")
		require.NoError(t, err)
		_, _ = io.WriteString(w, `{"text":"find the cup","language":"en"}`)
	}))
	defer srv.Close()

	c := New(config.LocalConfig{
		WhisperEndpoint: srv.URL + "/asr",
		WhisperType:     "asr",
		VADFilter:       true,
		Language:        "en",
	}, minispec.DefaultRegistry())
	res, err := c.Transcribe(context.Background(), []byte("RIFF"), "audio/wav", planner.TranscribeOpts{})
	require.NoError(t, err)
	assert.Equal(t, "find the cup", res.Text)
	assert.Equal(t, "en", res.Language)
}

func TestTranscribe_OpenAIFlavor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "model not loaded")
	}))
	defer srv.Close()

	c := New(config.LocalConfig{WhisperEndpoint: srv.URL}, minispec.DefaultRegistry())
	_, err := c.Transcribe(context.Background(), []byte("RIFF"), "audio/wav", planner.TranscribeOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}
