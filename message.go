package chat

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Kind is the envelope discriminator carried in the "type" field.
type Kind string

// Envelope kinds understood by the client.
const (
	KindMessage Kind = "message"
	KindControl Kind = "control"
	KindCommand Kind = "command"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindControl, KindCommand:
		return true
	}
	return false
}

// Attribute tags used by the protocol.
const (
	AttrWelcome = "welcome"
	AttrAlive   = "alive"
	AttrBuffer  = "buffer"
	AttrTimeout = "timeout"
	AttrCsep    = "csep"
)

// Filler pads encoded envelopes up to the frame size.
const Filler = ' '

// Attributes is the set of tags attached to an envelope. On the wire it is a
// JSON list; a bare string is accepted when decoding. An empty set has one
// form in memory: nil. Attributes{} is sent as [] and decodes back to nil.
type Attributes []string

// Has reports whether tag is present.
func (a Attributes) Has(tag string) bool {
	for _, t := range a {
		if t == tag {
			return true
		}
	}
	return false
}

// MarshalJSON always produces a list so an empty set is sent as [].
func (a Attributes) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON accepts either a list of strings or a single string.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		*a = Attributes{tag}
		return nil
	}

	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	if len(tags) == 0 {
		tags = nil
	}
	*a = tags
	return nil
}

// Envelope is the structured unit carried by every frame.
type Envelope struct {
	Kind    Kind       `json:"type"`
	Attrib  Attributes `json:"attrib"`
	Content string     `json:"content"`
}

// marshalEnvelope returns the unpadded wire form of env.
func marshalEnvelope(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	// Encoder terminates every value with a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// EncodeFrame serializes env and pads it with Filler to exactly size bytes.
func EncodeFrame(env Envelope, size int) ([]byte, error) {
	data, err := marshalEnvelope(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	if len(data) > size {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes exceeds frame size %d", len(data), size)
	}

	frame := make([]byte, size)
	copy(frame, data)
	for i := len(data); i < size; i++ {
		frame[i] = Filler
	}
	return frame, nil
}

// DecodeFrame parses a padded frame back into an Envelope.
func DecodeFrame(frame []byte) (Envelope, error) {
	data := bytes.TrimRight(frame, " \t\r\n\x00")
	if !utf8.Valid(data) {
		return Envelope{}, errors.Wrap(ErrMalformedFrame, "invalid utf-8")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, withCause(ErrMalformedFrame, err)
	}
	if !env.Kind.Valid() {
		return Envelope{}, errors.Wrapf(ErrUnknownEnvelopeKind, "%q", env.Kind)
	}
	return env, nil
}
