package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"

	"github.com/fxamacker/cbor/v2"
)

const contentTypeCBOR = "application/cbor"

// Decode parses a response body into an Envelope. The body is either a bare
// frame object or an envelope of the form {"node_id": ..., "frame": ...}.
// A missing or null frame yields an Envelope with a nil Frame and no error.
// CBOR bodies are recognised by their content type; anything else is JSON.
// All failures wrap ErrDecode.
func Decode(body []byte, contentType string) (*Envelope, error) {
	var (
		fields map[string][]byte
		err    error
	)
	isCBOR := mediaType(contentType) == contentTypeCBOR
	if isCBOR {
		fields, err = cborFields(body)
	} else {
		fields, err = jsonFields(body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	unmarshal := json.Unmarshal
	isNull := func(b []byte) bool { return bytes.Equal(bytes.TrimSpace(b), []byte("null")) }
	if isCBOR {
		unmarshal = cbor.Unmarshal
		isNull = func(b []byte) bool { return len(b) == 1 && (b[0] == 0xf6 || b[0] == 0xf7) }
	}

	env := &Envelope{}
	rawNode, hasNode := fields["node_id"]
	rawFrame, hasFrame := fields["frame"]

	if !hasNode && !hasFrame {
		// Bare frame.
		var f Frame
		if err := unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("%w: frame: %w", ErrDecode, err)
		}
		if err := validate(&f); err != nil {
			return nil, err
		}
		env.Frame = &f
		return env, nil
	}

	if hasNode && !isNull(rawNode) {
		if err := unmarshal(rawNode, &env.NodeID); err != nil {
			return nil, fmt.Errorf("%w: node_id: %w", ErrDecode, err)
		}
	}

	if !hasFrame || isNull(rawFrame) {
		return env, nil
	}

	var f Frame
	if err := unmarshal(rawFrame, &f); err != nil {
		return nil, fmt.Errorf("%w: frame: %w", ErrDecode, err)
	}
	if err := validate(&f); err != nil {
		return nil, err
	}
	env.Frame = &f
	return env, nil
}

func validate(f *Frame) error {
	if !(f.SampleRate > 0) {
		return fmt.Errorf("%w: sample_rate must be positive, got %v", ErrDecode, f.SampleRate)
	}
	return nil
}

func jsonFields(body []byte) (map[string][]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("expected an object, got null")
	}
	fields := make(map[string][]byte, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	return fields, nil
}

func cborFields(body []byte) (map[string][]byte, error) {
	var raw map[string]cbor.RawMessage
	if err := cbor.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("expected a map, got null")
	}
	fields := make(map[string][]byte, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	return fields, nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}
