// Package piper speaks mission reports through a Piper server over the
// Wyoming protocol (TCP, default port 10200).
package piper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fuangela/AutoDrone/internal/config"
	"github.com/fuangela/AutoDrone/internal/tts"
)

var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-davefx-medium",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"pt": "pt_BR-faber-medium",
	"zh": "zh_CN-huayan-medium",
}

const (
	dialTimeout    = 5 * time.Second
	defaultTimeout = 30 * time.Second
)

// Synthesizer implements tts.Synthesizer.
type Synthesizer struct {
	endpoint  string
	endpoints map[string]string
	voices    map[string]string
	dialer    net.Dialer
}

// New creates a synthesizer. Per-language endpoints win over the default
// endpoint; configured voices override the built-in table.
func New(cfg config.PiperConfig) *Synthesizer {
	s := &Synthesizer{
		endpoint:  hostPort(cfg.Endpoint),
		endpoints: make(map[string]string, len(cfg.Endpoints)),
		voices:    make(map[string]string, len(defaultVoices)+len(cfg.Voices)),
		dialer:    net.Dialer{Timeout: dialTimeout},
	}
	for lang, ep := range cfg.Endpoints {
		s.endpoints[strings.ToLower(lang)] = hostPort(ep)
	}
	for lang, v := range defaultVoices {
		s.voices[lang] = v
	}
	for lang, v := range cfg.Voices {
		s.voices[strings.ToLower(lang)] = v
	}
	return s
}

func hostPort(ep string) string {
	for _, prefix := range []string{"tcp://", "http://"} {
		ep = strings.TrimPrefix(ep, prefix)
	}
	return strings.TrimSuffix(ep, "/")
}

// route picks the endpoint and voice for a language.
func (s *Synthesizer) route(opts tts.SynthesizeOpts) (endpoint, voice string) {
	lang := strings.ToLower(opts.Language)
	endpoint = s.endpoints[lang]
	if endpoint == "" {
		endpoint = s.endpoint
	}
	voice = opts.Voice
	if voice == "" {
		voice = s.voices[lang]
	}
	if voice == "" {
		voice = s.voices["en"]
	}
	return endpoint, voice
}

// Synthesize speaks text and returns a WAV clip.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text for synthesis")
	}
	endpoint, voice := s.route(opts)
	if endpoint == "" {
		return nil, fmt.Errorf("no piper endpoint configured for language %q", opts.Language)
	}

	start := time.Now()
	conn, err := s.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	_ = conn.SetDeadline(deadline)

	// Unblock reads if the caller gives up before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	err = writeEvent(conn, event{
		Type: "synthesize",
		Data: map[string]any{"text": text, "voice": map[string]any{"name": voice}},
	})
	if err != nil {
		return nil, fmt.Errorf("sending synthesize: %w", err)
	}

	var (
		pcm                   bytes.Buffer
		rate, channels, width = 22050, 1, 2
		r                     = bufio.NewReader(conn)
	)
	for {
		e, err := readEvent(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading piper event: %w", err)
		}
		switch e.Type {
		case "audio-start":
			rate = e.intData("rate", rate)
			channels = e.intData("channels", channels)
			width = e.intData("width", width)
		case "audio-chunk":
			pcm.Write(e.Payload)
		case "audio-stop":
			slog.Debug("piper synthesized",
				"voice", voice,
				"endpoint", endpoint,
				"pcm_bytes", pcm.Len(),
				"duration", time.Since(start),
			)
			return &tts.SynthesizeResult{
				Audio:       encodeWAV(pcm.Bytes(), rate, channels, width),
				ContentType: "audio/wav",
				SampleRate:  rate,
				Channels:    channels,
			}, nil
		case "error":
			msg, _ := e.Data["text"].(string)
			if msg == "" {
				msg = "unknown error"
			}
			return nil, fmt.Errorf("piper error: %s", msg)
		}
	}
}

// Close is a no-op; connections are per request.
func (s *Synthesizer) Close() error { return nil }
