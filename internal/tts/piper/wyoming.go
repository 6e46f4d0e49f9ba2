package piper

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
)

// event is one Wyoming protocol message. On the wire it is a JSON header
// line, then data_length bytes of extra JSON data, then payload_length
// bytes of binary payload. Older servers put data inline in the header.
type event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

type header struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

const maxSection = 16 << 20

func writeEvent(w io.Writer, e event) error {
	h := header{Type: e.Type, PayloadLength: len(e.Payload)}
	var data []byte
	if len(e.Data) > 0 {
		var err error
		if data, err = json.Marshal(e.Data); err != nil {
			return fmt.Errorf("marshal %s data: %w", e.Type, err)
		}
		h.DataLength = len(data)
	}
	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal %s header: %w", e.Type, err)
	}

	var buf bytes.Buffer
	buf.Write(line)
	buf.WriteByte('\n')
	buf.Write(data)
	buf.Write(e.Payload)
	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r *bufio.Reader) (event, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return event{}, fmt.Errorf("reading header: %w", err)
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return event{}, fmt.Errorf("invalid wyoming header %q: %w", bytes.TrimSpace(line), err)
	}
	if h.DataLength < 0 || h.DataLength > maxSection || h.PayloadLength < 0 || h.PayloadLength > maxSection {
		return event{}, fmt.Errorf("wyoming %s: section too large", h.Type)
	}

	e := event{Type: h.Type, Data: h.Data}
	if h.DataLength > 0 {
		raw := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r, raw); err != nil {
			return event{}, fmt.Errorf("reading %s data: %w", h.Type, err)
		}
		extra := map[string]any{}
		if err := json.Unmarshal(raw, &extra); err != nil {
			return event{}, fmt.Errorf("decoding %s data: %w", h.Type, err)
		}
		if e.Data == nil {
			e.Data = extra
		} else {
			maps.Copy(e.Data, extra)
		}
	}
	if h.PayloadLength > 0 {
		e.Payload = make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r, e.Payload); err != nil {
			return event{}, fmt.Errorf("reading %s payload: %w", h.Type, err)
		}
	}
	return e, nil
}

func (e event) intData(key string, fallback int) int {
	if v, ok := e.Data[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}

// encodeWAV wraps little-endian PCM in a canonical 44-byte WAV header.
func encodeWAV(pcm []byte, rate, channels, width int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, le, struct {
		Size       uint32
		Format     uint16
		Channels   uint16
		Rate       uint32
		ByteRate   uint32
		BlockAlign uint16
		Bits       uint16
	}{16, 1, uint16(channels), uint32(rate), uint32(rate * channels * width), uint16(channels * width), uint16(width * 8)})
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
