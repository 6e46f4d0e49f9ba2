// Package tts defines how mission reports are spoken back to the operator.
package tts

import "context"

// SynthesizeOpts selects the voice.
type SynthesizeOpts struct {
	// Language is the ISO-639-1 code of the report; it picks the voice.
	Language string

	// Voice overrides language-based selection.
	Voice string
}

// Synthesizer turns a report into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error)
	Close() error
}

// SynthesizeResult is a complete audio clip.
type SynthesizeResult struct {
	// Audio is a WAV file.
	Audio       []byte
	ContentType string
	SampleRate  int
	Channels    int
}
