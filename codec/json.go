package codec

import (
	"encoding/json"
	"io"
)

// JSON is the standard-library JSON codec.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Encode writes v as compact JSON without a trailing newline.
func (JSON) Encode(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode reads one JSON value from r.
func (JSON) Decode(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) }

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}
