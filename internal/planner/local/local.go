// Package local implements the planner collaborators using self-hosted models.
//
// It supports any Whisper-compatible transcription endpoint (e.g., whisper.cpp
// server, faster-whisper) and either Ollama's /api/generate or any
// OpenAI-compatible chat endpoint (Ollama, vLLM, llama.cpp server) for planning.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fuangela/AutoDrone/internal/config"
	"github.com/fuangela/AutoDrone/internal/minispec"
	"github.com/fuangela/AutoDrone/internal/planner"
)

// Client uses self-hosted models for transcription and planning.
type Client struct {
	whisperEndpoint string
	whisperType     string // "openai" or "asr"
	llmEndpoint     string
	llmModel        string
	vadFilter       bool
	defaultLanguage string
	temperature     float64
	systemPrompt    string
	client          *http.Client
}

// New creates a local client from config.
func New(cfg config.LocalConfig, reg *minispec.Registry) *Client {
	wt := cfg.WhisperType
	if wt == "" {
		wt = "openai"
	}
	model := cfg.LLMModel
	if model == "" {
		model = "llama3.2"
	}
	return &Client{
		whisperEndpoint: cfg.WhisperEndpoint,
		whisperType:     wt,
		llmEndpoint:     cfg.LLMEndpoint,
		llmModel:        model,
		vadFilter:       cfg.VADFilter,
		defaultLanguage: cfg.Language,
		temperature:     cfg.Temperature,
		systemPrompt:    planner.BuildSystemPrompt(reg),
		client:          &http.Client{},
	}
}

// Name returns the backend identifier.
func (c *Client) Name() string { return "local" }

// Transcribe sends audio to the local Whisper-compatible endpoint.
// Supports two flavors:
//   - "openai": OpenAI-compatible API (whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string, opts planner.TranscribeOpts) (*planner.TranscribeResult, error) {
	lang := opts.Language
	if lang == "" {
		lang = c.defaultLanguage
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	field := "file"
	if c.whisperType == "asr" {
		field = "audio_file"
	}
	part, err := writer.CreateFormFile(field, "audio"+planner.ExtFromContentType(contentType))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return nil, fmt.Errorf("writing audio: %w", err)
	}

	reqURL := c.whisperEndpoint
	if c.whisperType == "asr" {
		// API: POST /asr?task=transcribe&language=en&output=json&vad_filter=true
		q := make(url.Values)
		q.Set("task", "transcribe")
		q.Set("output", "json")
		q.Set("encode", "true")
		if lang != "" {
			q.Set("language", lang)
		}
		if opts.Prompt != "" {
			q.Set("initial_prompt", opts.Prompt)
		}
		if c.vadFilter {
			q.Set("vad_filter", "true")
		}
		reqURL += "?" + q.Encode()
	} else {
		if opts.Model != "" {
			_ = writer.WriteField("model", opts.Model)
		}
		if lang != "" {
			_ = writer.WriteField("language", lang)
		}
		if opts.Prompt != "" {
			_ = writer.WriteField("prompt", opts.Prompt)
		}
		_ = writer.WriteField("response_format", "verbose_json")
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s transcription request: %w", c.whisperType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%s transcription failed (status %d): %s", c.whisperType, resp.StatusCode, respBody)
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding transcription: %w", err)
	}

	slog.Debug("local transcription complete", "flavor", c.whisperType, "text_length", len(result.Text), "language", result.Language)
	return &planner.TranscribeResult{
		Text:     strings.TrimSpace(result.Text),
		Language: planner.NormalizeLanguage(result.Language),
	}, nil
}

// Plan sends the goal to the local LLM endpoint. An endpoint ending in
// /api/generate gets Ollama's native format; anything else is treated as
// OpenAI-compatible chat completions.
func (c *Client) Plan(ctx context.Context, preq planner.PlanRequest) (string, error) {
	var reqBody map[string]any
	if strings.HasSuffix(c.llmEndpoint, "/api/generate") {
		reqBody = map[string]any{
			"model":   c.llmModel,
			"system":  c.systemPrompt,
			"prompt":  planner.UserPrompt(preq),
			"stream":  false,
			"options": map[string]any{"temperature": c.temperature},
		}
	} else {
		reqBody = map[string]any{
			"model": c.llmModel,
			"messages": []map[string]string{
				{"role": "system", "content": c.systemPrompt},
				{"role": "user", "content": planner.UserPrompt(preq)},
			},
			"temperature": c.temperature,
			"stream":      false,
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.llmEndpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("local LLM request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("local LLM failed (status %d): %s", resp.StatusCode, respBody)
	}

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading LLM response: %w", err)
	}

	program := planner.CleanProgram(extractContent(respData))
	if program == "" {
		return "", fmt.Errorf("empty response from local LLM")
	}
	slog.Debug("plan complete", "backend", c.Name(), "model", c.llmModel, "duration", time.Since(start), "program_length", len(program))
	return program, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func extractContent(data []byte) string {
	// OpenAI-compatible format: {"choices": [{"message": {"content": "..."}}]}
	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chatResp); err == nil && len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content
	}

	// Ollama generate format: {"response": "..."}
	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &ollamaResp); err == nil && ollamaResp.Response != "" {
		return ollamaResp.Response
	}

	// Ollama chat format: {"message": {"content": "..."}}
	var ollamaChat struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &ollamaChat); err == nil && ollamaChat.Message.Content != "" {
		return ollamaChat.Message.Content
	}

	return string(data)
}
