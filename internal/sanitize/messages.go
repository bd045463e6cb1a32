package sanitize

import (
	"bytes"
	"context"
	"encoding/json"
)

// MaskMessages parses an OpenAI-format chat body and masks the text content
// of every message, string and multi-part alike. All messages share one
// Mapping. A body that is not JSON is masked as plain text; a JSON body
// without messages is returned unchanged.
func (m *Masker) MaskMessages(ctx context.Context, body []byte) ([]byte, Mapping, error) {
	mapping := make(Mapping)

	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil {
		res, err := m.Mask(ctx, string(body))
		if err != nil {
			return nil, nil, err
		}
		return []byte(res.Text), res.Mapping, nil
	}

	messagesRaw, ok := req["messages"]
	if !ok {
		return body, mapping, nil
	}
	var messages []map[string]json.RawMessage
	if err := json.Unmarshal(messagesRaw, &messages); err != nil {
		return body, mapping, nil
	}

	maskText := func(s string) (string, error) {
		res, err := m.Mask(ctx, s)
		if err != nil {
			return "", err
		}
		mapping.Merge(res.Mapping)
		return res.Text, nil
	}

	changed := false
	for i, msg := range messages {
		contentRaw, ok := msg["content"]
		if !ok {
			continue
		}

		var content string
		if err := json.Unmarshal(contentRaw, &content); err == nil {
			masked, err := maskText(content)
			if err != nil {
				return nil, nil, err
			}
			if masked != content {
				messages[i]["content"] = mustMarshal(masked)
				changed = true
			}
			continue
		}

		// Array content (vision / multi-modal messages).
		var parts []map[string]json.RawMessage
		if err := json.Unmarshal(contentRaw, &parts); err != nil {
			continue
		}
		partsChanged := false
		for j, part := range parts {
			textRaw, ok := part["text"]
			if !ok {
				continue
			}
			var text string
			if err := json.Unmarshal(textRaw, &text); err != nil {
				continue
			}
			masked, err := maskText(text)
			if err != nil {
				return nil, nil, err
			}
			if masked != text {
				parts[j]["text"] = mustMarshal(masked)
				partsChanged = true
			}
		}
		if partsChanged {
			messages[i]["content"] = mustMarshal(parts)
			changed = true
		}
	}

	if !changed {
		return body, mapping, nil
	}

	req["messages"] = mustMarshal(messages)
	out, err := marshalRaw(req)
	if err != nil {
		return nil, nil, MaskingError("mask messages", err)
	}
	return out, mapping, nil
}

// marshalRaw encodes v without HTML escaping so tokens keep their literal
// angle brackets on the wire.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// mustMarshal encodes values that were just decoded from JSON and therefore
// always re-encode.
func mustMarshal(v any) json.RawMessage {
	b, _ := marshalRaw(v)
	return b
}
