// Package codec centralizes the JSON encoding of worker messages and
// document packages.
//
// Packages written by the ingestion tooling and messages exchanged with
// remote workers are plain JSON, so any codec here can read what another
// wrote. The codec name travels in NATS headers so a server answers in the
// encoding the client asked for.
package codec

import (
	"fmt"
	"io"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Streamer is implemented by codecs that can work on streams without
// buffering the whole payload.
type Streamer interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Encode writes v to w, streaming when c supports it.
func Encode(c Codec, w io.Writer, v any) error {
	if c == nil {
		c = Default
	}
	if s, ok := c.(Streamer); ok {
		return s.Encode(w, v)
	}
	b, err := c.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Decode reads one value from r, streaming when c supports it.
func Decode(c Codec, r io.Reader, v any) error {
	if c == nil {
		c = Default
	}
	if s, ok := c.(Streamer); ok {
		return s.Decode(r, v)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return c.Unmarshal(b, v)
}

// MustMarshal is a helper for tests and fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
