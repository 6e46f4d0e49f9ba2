// Package planner defines the language-model collaborators of the engine.
//
// A Planner turns a natural-language goal (plus the summary of earlier
// failed attempts) into program text; a Transcriber turns recorded speech
// into the goal. Two backends ship: openai (hosted) and local
// (Ollama / whisper.cpp / whisper-asr-webservice).
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/fuangela/AutoDrone/internal/minispec"
)

// PlanRequest is one planning call.
type PlanRequest struct {
	// Goal is the operator's request, verbatim.
	Goal string

	// Context summarizes earlier attempts for the same goal. Empty on the
	// first attempt.
	Context string
}

// Planner produces program text for a goal.
type Planner interface {
	// Name returns the backend identifier (e.g., "openai", "local").
	Name() string

	// Plan returns program text. The text is cleaned of reasoning blocks and
	// markdown fences but not parsed.
	Plan(ctx context.Context, req PlanRequest) (string, error)
}

// TranscribeOpts controls transcription behavior.
type TranscribeOpts struct {
	// Language is the ISO-639-1 code (e.g., "en", "fr") to guide transcription.
	Language string

	// Prompt provides context to improve recognition of domain-specific terms.
	Prompt string

	// Model overrides the default transcription model.
	Model string
}

// TranscribeResult holds the output of speech-to-text.
type TranscribeResult struct {
	Text     string
	Language string
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, contentType string, opts TranscribeOpts) (*TranscribeResult, error)
}

// BuildSystemPrompt describes the instruction language to the model: the
// grammar, every registered primitive and the completion rule.
func BuildSystemPrompt(reg *minispec.Registry) string {
	var sb strings.Builder
	sb.WriteString("You control a small flying robot with a camera. ")
	sb.WriteString("Translate the user's request into a short program in the language below.\n\n")

	sb.WriteString("Grammar:\n")
	sb.WriteString("- One statement per line, or statements separated by ';'.\n")
	sb.WriteString("- A statement is opcode(arg, ...) or name = opcode(arg, ...) for opcodes that return a value.\n")
	sb.WriteString("- Arguments are numbers, double-quoted strings, or names bound by an earlier statement.\n")
	sb.WriteString("- There are no conditionals, loops, or expressions.\n\n")

	sb.WriteString("Primitives:\n")
	for _, p := range reg.Primitives() {
		fmt.Fprintf(&sb, "- %s", p.Signature())
		if p.Doc != "" {
			sb.WriteString("  // " + p.Doc)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nRules:\n")
	sb.WriteString("- Distances are centimeters and angles are degrees.\n")
	sb.WriteString("- Only refer to objects through find(); never invent coordinates for them.\n")
	sb.WriteString("- End every program with done() or report(\"...\") once the request is satisfied.\n")
	sb.WriteString("- If earlier attempts are listed, do not repeat what failed.\n")
	sb.WriteString("- Output only the program. No prose, no markdown.\n\n")

	sb.WriteString("Example:\n")
	sb.WriteString("request: fly to the cup\n")
	sb.WriteString("c = find(\"cup\")\nmove_to(c)\ndone()\n")
	return sb.String()
}

// UserPrompt renders the user turn of a planning call.
func UserPrompt(req PlanRequest) string {
	if req.Context == "" {
		return "request: " + req.Goal
	}
	return "request: " + req.Goal + "\n\n" + req.Context
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models emit these before the answer. An unclosed block is
// stripped to the end of the string.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// CleanProgram strips reasoning blocks and a surrounding markdown fence
// from model output.
func CleanProgram(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// ExtFromContentType picks the upload filename extension for an audio MIME type.
func ExtFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return ".mp3"
	case strings.Contains(ct, "flac"):
		return ".flac"
	case strings.Contains(ct, "webm"):
		return ".webm"
	case strings.Contains(ct, "m4a"):
		return ".m4a"
	default:
		return ".wav"
	}
}

// NormalizeLanguage converts full language names (as returned by OpenAI)
// to ISO-639-1 codes.
func NormalizeLanguage(lang string) string {
	if len(lang) == 2 {
		return strings.ToLower(lang)
	}
	if code, ok := languageCodes[strings.ToLower(lang)]; ok {
		return code
	}
	return strings.ToLower(lang)
}

var languageCodes = map[string]string{
	"english":    "en",
	"french":     "fr",
	"spanish":    "es",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"russian":    "ru",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"arabic":     "ar",
	"hindi":      "hi",
	"turkish":    "tr",
}
