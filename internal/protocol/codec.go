package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageSize bounds a single inbound envelope.
const MaxMessageSize = 4096

var ErrMessageTooLarge = errors.New("message too large")

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if len(raw) > MaxMessageSize {
		return env, ErrMessageTooLarge
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("envelope has no type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into v.
func DecodePayload(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s message has no data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return nil
}
