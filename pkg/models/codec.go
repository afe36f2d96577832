package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrEmptyMessage = errors.New("empty status message")

// Encode serializes a message to its UTF-8 JSON wire form.
func Encode(msg *StatusMessage) ([]byte, error) {
	if msg == nil {
		return nil, ErrEmptyMessage
	}
	out := *msg
	if out.Modules == nil {
		out.Modules = []ModuleUpdate{}
	}
	out.TimestampUtc = out.TimestampUtc.UTC()

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status message: %w", err)
	}
	return body, nil
}

// Decode parses a wire payload. Unknown fields are ignored and a missing
// Modules array decodes as empty. A blank or null payload is ErrEmptyMessage.
func Decode(body []byte) (*StatusMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyMessage
	}

	var msg *StatusMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status message: %w", err)
	}
	if msg == nil {
		return nil, ErrEmptyMessage
	}
	if msg.Modules == nil {
		msg.Modules = []ModuleUpdate{}
	}
	msg.TimestampUtc = msg.TimestampUtc.UTC()
	return msg, nil
}
