package openai

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

func newClient(url string) *Client {
	return New(config.OpenAIConfig{
		APIKey:             "sk-test",
		BaseURL:            url + "/",
		TranscriptionModel: "whisper-1",
		CompletionModel:    "gpt-test",
	}, minispec.DefaultRegistry())
}

func writeChat(w http.ResponseWriter, content string) {
	var resp chatResponse
	resp.Choices = make([]struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	resp.Choices[0].Message.Content = content
	_ = json.NewEncoder(w).Encode(resp)
}

func TestPlan_SendsPromptAndCleansOutput(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChat(w, "<think>cups are round</think>\n```\nc = find(\"cup\")\nmove_to(c)\ndone()\n```")
	}))
	defer srv.Close()

	prog, err := newClient(srv.URL).Plan(context.Background(), planner.PlanRequest{
		Goal:    "fly to the cup",
		Context: "Attempt 1: find(cup) returned no results",
	})
	require.NoError(t, err)
	assert.Equal(t, "c = find(\"cup\")\nmove_to(c)\ndone()", prog)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "find(class: string, [index: number]) -> object")
	assert.Contains(t, got.Messages[1].Content, "fly to the cup")
	assert.Contains(t, got.Messages[1].Content, "find(cup) returned no results")
}

func TestPlan_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"empty program", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`},
		{"api error", http.StatusOK, `{"error":{"message":"model not found"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Plan(context.Background(), planner.PlanRequest{Goal: "land"})
			assert.Error(t, err)
		})
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "fr", r.FormValue("language"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "audio.ogg", hdr.Filename)
		_, _ = io.WriteString(w, `{"text":" trouve la tasse ","language":"french"}`)
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Transcribe(context.Background(), []byte("OggS"), "audio/ogg", planner.TranscribeOpts{Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "trouve la tasse", res.Text)
	assert.Equal(t, "fr", res.Language)
}
