package livechannel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	errInvalidJSON = errors.New("payload is not valid JSON")
	errNotObject   = errors.New("envelope is not a JSON object")
	errMissingType = errors.New(`envelope has no string "type" field`)
)

// Envelope is an inbound message: the "type" tag selects the handler and the
// payload lives under "data", or under "message" on the notification channel.
type Envelope struct {
	Kind string
	Data json.RawMessage
	Raw  []byte
}

// ParseEnvelope validates raw and extracts kind and payload.
func ParseEnvelope(raw []byte) (Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return Envelope{}, &MalformedMessageError{Raw: raw, Err: errInvalidJSON}
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Envelope{}, &MalformedMessageError{Raw: raw, Err: errNotObject}
	}

	kind := root.Get("type")
	if kind.Type != gjson.String || kind.Str == "" {
		return Envelope{}, &MalformedMessageError{Raw: raw, Err: errMissingType}
	}

	payload := root.Get("data")
	if !payload.Exists() {
		payload = root.Get("message")
	}

	env := Envelope{Kind: kind.Str, Raw: raw}
	if payload.Exists() {
		env.Data = json.RawMessage(payload.Raw)
	}
	return env, nil
}

// Field looks up any top-level or nested field with a gjson path, e.g.
// "timestamp" on notification envelopes.
func (e Envelope) Field(path string) gjson.Result {
	return gjson.GetBytes(e.Raw, path)
}

// Decode unmarshals the payload into v. Failures are MalformedMessageError.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return &MalformedMessageError{Raw: e.Raw, Err: fmt.Errorf("%s: empty payload", e.Kind)}
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &MalformedMessageError{Raw: e.Raw, Err: fmt.Errorf("%s: %w", e.Kind, err)}
	}
	return nil
}

// Command is an outbound message. It is sent as one flat JSON object with the
// kind under "type" next to the params.
type Command struct {
	Kind   string
	Params map[string]any
}

// NewCommand creates a command without params.
func NewCommand(kind string) Command {
	return Command{Kind: kind}
}

// With returns a copy of c with key set.
func (c Command) With(key string, value any) Command {
	params := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		params[k] = v
	}
	params[key] = value
	return Command{Kind: c.Kind, Params: params}
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Kind == "" {
		return nil, errors.New("command kind is empty")
	}
	obj := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		obj[k] = v
	}
	obj["type"] = c.Kind
	return json.Marshal(obj)
}
