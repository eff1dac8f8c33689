package protocol

import (
	"encoding/json"
)

const errorPrefixLen = 64

// Parse validates a raw frame and extracts its type.
// The frame must be a JSON object whose "type" is a non-empty string.
func Parse(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Message{}, newParseError(ErrMalformed, data)
	}

	raw, ok := fields["type"]
	if !ok {
		return Message{}, newParseError(ErrMissingType, data)
	}

	var msgType string
	if err := json.Unmarshal(raw, &msgType); err != nil || msgType == "" {
		return Message{}, newParseError(ErrMissingType, data)
	}

	return Message{
		Type:   msgType,
		Raw:    data,
		Fields: fields,
	}, nil
}

func newParseError(err error, data []byte) *ParseError {
	prefix := data
	if len(prefix) > errorPrefixLen {
		prefix = prefix[:errorPrefixLen]
	}
	return &ParseError{Err: err, Prefix: string(prefix)}
}
