package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the document the report program prints on stdout.
type Payload struct {
	OK       bool            `json:"ok"`
	Messages []MessageText   `json:"messages,omitempty"`
	Image    string          `json:"image,omitempty"`
	Report   string          `json:"report,omitempty"`
	Summary  json.RawMessage `json:"summary,omitempty"`
}

// MessageText accepts either a JSON string or an object with a text field.
type MessageText string

func (m *MessageText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MessageText(s)
		return nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		// numbers and the like are kept as their literal text
		*m = MessageText(data)
		return nil //nolint:nilerr // tolerated, the program output is loosely typed
	}
	*m = MessageText(obj.Text)
	return nil
}

var errNotObject = errors.New("payload is not a JSON object")

// ParsePayload decodes a recovered document. Only objects are usable.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &p, nil
}

// Texts returns the non-blank messages in order.
func (p *Payload) Texts() []string {
	out := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		if s := string(m); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// ImagePath returns the image reference with doubled backslashes collapsed,
// as Windows tooling tends to emit them.
func (p *Payload) ImagePath() string {
	return strings.ReplaceAll(strings.TrimSpace(p.Image), `\\`, `\`)
}
