// Package mission defines the request and result types exchanged between
// transports, the dispatcher and the history store.
package mission

import (
	"encoding/base64"
	"time"

	"github.com/fuangela/AutoDrone/internal/replan"
)

// ResponseMode selects which spoken or written report the caller wants back.
type ResponseMode string

const (
	// ResponseModeNone returns only the mission status and attempts.
	ResponseModeNone ResponseMode = "none"

	// ResponseModeText returns the report as text.
	ResponseModeText ResponseMode = "text"

	// ResponseModeAudio returns the report synthesized to speech.
	ResponseModeAudio ResponseMode = "audio"

	// ResponseModeTextAudio returns both.
	ResponseModeTextAudio ResponseMode = "text+audio"
)

// WantText reports whether the mode includes a text report.
func (m ResponseMode) WantText() bool {
	return m == ResponseModeText || m == ResponseModeTextAudio
}

// WantAudio reports whether the mode includes a spoken report.
func (m ResponseMode) WantAudio() bool {
	return m == ResponseModeAudio || m == ResponseModeTextAudio
}

// Valid reports whether m is one of the known modes.
func (m ResponseMode) Valid() bool {
	switch m {
	case ResponseModeNone, ResponseModeText, ResponseModeAudio, ResponseModeTextAudio:
		return true
	}
	return false
}

// Status is the final state of a mission. The first three mirror the
// controller's statuses.
type Status string

const (
	StatusSucceeded Status = Status(replan.StatusSucceeded)
	StatusExhausted Status = Status(replan.StatusExhausted)
	StatusAborted   Status = Status(replan.StatusAborted)

	// StatusRejected means the request never reached the controller
	// (no goal, or transcription failed).
	StatusRejected Status = "rejected"

	// StatusBusy means another mission held the robot.
	StatusBusy Status = "busy"
)

// Request is one goal submitted by a transport, the REPL or a one-shot run.
type Request struct {
	// ID is assigned by the dispatcher when empty.
	ID string `json:"id,omitempty"`

	// Source identifies the sender (e.g., "ground-station", "phone-alice").
	Source string `json:"source,omitempty"`

	// Audio is a spoken goal. Nil for text requests.
	Audio []byte `json:"audio,omitempty"`

	// ContentType is the MIME type of Audio (e.g., "audio/wav").
	ContentType string `json:"content_type,omitempty"`

	// Text is the goal in words; ignored when Audio is present.
	Text string `json:"text,omitempty"`

	// Language hints the transcriber and picks the report voice.
	Language string `json:"language,omitempty"`

	// ResponseMode defaults to text+audio when TTS is enabled, text otherwise.
	ResponseMode ResponseMode `json:"response_mode,omitempty"`

	// ReceivedAt is stamped by the dispatcher.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// HasAudio reports whether the request carries a spoken goal.
func (r *Request) HasAudio() bool {
	return len(r.Audio) > 0
}

// Result is what the sender gets back once a mission has finished.
type Result struct {
	MissionID string `json:"mission_id"`
	Source    string `json:"source,omitempty"`

	// Transcript is the transcribed goal (empty for text requests).
	Transcript string `json:"transcript,omitempty"`

	// Language is the ISO-639-1 code detected or requested.
	Language string `json:"language,omitempty"`

	Goal     string           `json:"goal"`
	Status   Status           `json:"status"`
	Report   string           `json:"report,omitempty"`
	Replans  int              `json:"replans"`
	Attempts []replan.Attempt `json:"attempts,omitempty"`

	// ResponseText is the report, when the response mode asks for text.
	ResponseText string `json:"response_text,omitempty"`

	// ResponseAudio is the spoken report, base64-encoded.
	ResponseAudio string `json:"response_audio,omitempty"`

	// ResponseContentType is the MIME type of ResponseAudio.
	ResponseContentType string `json:"response_content_type,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	// Error describes why the mission was rejected or aborted.
	Error string `json:"error,omitempty"`
}

// SetResponseAudioBytes base64-encodes raw audio bytes into ResponseAudio.
func (r *Result) SetResponseAudioBytes(audio []byte) {
	if len(audio) > 0 {
		r.ResponseAudio = base64.StdEncoding.EncodeToString(audio)
	}
}

// Finish stamps the end time and duration.
func (r *Result) Finish(now time.Time) {
	r.FinishedAt = now
	r.Duration = now.Sub(r.StartedAt)
}
