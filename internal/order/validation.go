package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// FieldErrors walks a validation error body and collects every array of
// strings, keyed by field path. msgs keeps document order.
func FieldErrors(body []byte) (map[string][]string, []string) {
	dec := json.NewDecoder(bytes.NewReader(body))
	fields := map[string][]string{}
	var msgs []string
	tok, err := dec.Token()
	if err != nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil
	}
	if err := walkObject(dec, "", fields, &msgs); err != nil {
		return nil, nil
	}
	return fields, msgs
}

func walkObject(dec *json.Decoder, prefix string, fields map[string][]string, msgs *[]string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("expected object key")
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if err := walkValue(dec, path, fields, msgs); err != nil {
			return err
		}
	}
	_, err := dec.Token()
	return err
}

func walkValue(dec *json.Decoder, path string, fields map[string][]string, msgs *[]string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		return walkObject(dec, path, fields, msgs)
	case '[':
		for dec.More() {
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return err
			}
			var s string
			if json.Unmarshal(v, &s) == nil {
				fields[path] = append(fields[path], s)
				*msgs = append(*msgs, s)
				continue
			}
			sub := json.NewDecoder(bytes.NewReader(v))
			if t, err := sub.Token(); err == nil {
				if d, ok := t.(json.Delim); ok && d == '{' {
					if err := walkObject(sub, path, fields, msgs); err != nil && !errors.Is(err, io.EOF) {
						return err
					}
				}
			}
		}
		_, err := dec.Token()
		return err
	}
	return nil
}

// JoinMessages renders messages as one sentence list: "A. B.".
func JoinMessages(msgs []string) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		m = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m), "."))
		if m != "" {
			parts = append(parts, m)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}
