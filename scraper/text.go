package scraper

import (
	"bytes"
	"encoding/json"
)

// Text decodes a JSON string, number or null into its textual form. Provider
// payloads are inconsistent about quoting numeric fields, and coercion is left
// to the normalizer.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*t = Text(n)
	}
	return nil
}

func (t Text) String() string { return string(t) }
