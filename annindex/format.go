package annindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unsafe"
)

const (
	// Magic identifies an ANN graph artifact.
	Magic = "HNSWANN1"

	// Version is the only supported artifact version.
	Version uint32 = 1

	// HeaderSize is the fixed size of the artifact header in bytes.
	HeaderSize = 36

	// NoNeighbor marks an unused adjacency slot.
	NoNeighbor int32 = -1
)

var (
	// ErrCorruptHeader is returned for a wrong magic, unsupported version or
	// header fields that cannot describe a graph.
	ErrCorruptHeader = errors.New("annindex: corrupt header")

	// ErrSizeMismatch is returned when the buffer length differs from the
	// length implied by the header.
	ErrSizeMismatch = errors.New("annindex: size mismatch")

	// ErrEmptyGraph is returned for a header with zero nodes. It is always
	// reported together with ErrCorruptHeader.
	ErrEmptyGraph = errors.New("annindex: graph has no nodes")
)

// Header is the fixed-size artifact header.
//
// Layout (little-endian):
//
//	magic[8] version:u32 dim:u32 nodeCount:u32 m:u32 entry:u32 efSearch:u32 scale:f32
type Header struct {
	Version    uint32
	Dim        uint32
	NodeCount  uint32
	M          uint32
	EntryPoint uint32
	EfSearch   uint32
	Scale      float32
}

// ExpectedSize returns the exact artifact length the header describes.
func (h Header) ExpectedSize() uint64 {
	n := uint64(h.NodeCount)
	return HeaderSize + n*uint64(h.Dim) + n*4 + n*uint64(h.M)*4
}

func (h Header) validate() error {
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, h.Version)
	}
	if h.Dim == 0 {
		return fmt.Errorf("%w: zero dimension", ErrCorruptHeader)
	}
	if h.NodeCount == 0 {
		return fmt.Errorf("%w: %w", ErrCorruptHeader, ErrEmptyGraph)
	}
	if h.EntryPoint >= h.NodeCount {
		return fmt.Errorf("%w: entry point %d out of range (nodes=%d)", ErrCorruptHeader, h.EntryPoint, h.NodeCount)
	}
	s := float64(h.Scale)
	if !(h.Scale > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: invalid scale %v", ErrCorruptHeader, h.Scale)
	}
	return nil
}

func (h Header) appendTo(b []byte) []byte {
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, h.Version)
	b = binary.LittleEndian.AppendUint32(b, h.Dim)
	b = binary.LittleEndian.AppendUint32(b, h.NodeCount)
	b = binary.LittleEndian.AppendUint32(b, h.M)
	b = binary.LittleEndian.AppendUint32(b, h.EntryPoint)
	b = binary.LittleEndian.AppendUint32(b, h.EfSearch)
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(h.Scale))
}

// Graph is a parsed artifact. The payload regions are views into the buffer
// passed to Decode; the buffer must stay unmodified while the Graph is used.
type Graph struct {
	Header

	buf       []byte
	vectors   []int8
	norms     []byte
	neighbors []byte
}

// Decode parses an artifact without copying its payload.
//
// Magic, version and the exact byte length are checked before any payload
// region is touched.
func Decode(buf []byte) (*Graph, error) {
	if len(buf) < len(Magic) || string(buf[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrSizeMismatch, len(buf))
	}

	le := binary.LittleEndian
	h := Header{
		Version:    le.Uint32(buf[8:12]),
		Dim:        le.Uint32(buf[12:16]),
		NodeCount:  le.Uint32(buf[16:20]),
		M:          le.Uint32(buf[20:24]),
		EntryPoint: le.Uint32(buf[24:28]),
		EfSearch:   le.Uint32(buf[28:32]),
		Scale:      math.Float32frombits(le.Uint32(buf[32:36])),
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, h.Version)
	}
	if want := h.ExpectedSize(); uint64(len(buf)) != want {
		return nil, fmt.Errorf("%w: got %d bytes, header implies %d", ErrSizeMismatch, len(buf), want)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	n := int(h.NodeCount)
	vecEnd := HeaderSize + n*int(h.Dim)
	normEnd := vecEnd + n*4

	g := &Graph{
		Header:    h,
		buf:       buf,
		norms:     buf[vecEnd:normEnd:normEnd],
		neighbors: buf[normEnd:],
	}
	if vecEnd > HeaderSize {
		g.vectors = unsafe.Slice((*int8)(unsafe.Pointer(&buf[HeaderSize])), vecEnd-HeaderSize)
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return int(g.NodeCount) }

// Vector returns the int8 code of node i.
func (g *Graph) Vector(i int) []int8 {
	d := int(g.Dim)
	return g.vectors[i*d : (i+1)*d : (i+1)*d]
}

// Norm returns the precomputed norm of node i.
func (g *Graph) Norm(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(g.norms[i*4:]))
}

// Neighbor returns adjacency slot j of node i.
func (g *Graph) Neighbor(i, j int) int32 {
	off := (i*int(g.M) + j) * 4
	return int32(binary.LittleEndian.Uint32(g.neighbors[off:])) // nolint gosec
}

// Bytes returns the artifact bytes backing the graph.
func (g *Graph) Bytes() []byte { return g.buf }

// WriteTo writes the artifact to w.
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(g.buf)
	return int64(n), err
}

// Encode serializes a graph. vectors holds nodeCount*dim codes, norms holds
// nodeCount norms and neighbors holds nodeCount*m slots.
func Encode(h Header, vectors []int8, norms []float32, neighbors []int32) ([]byte, error) {
	if h.Version == 0 {
		h.Version = Version
	}
	n := int(h.NodeCount)
	switch {
	case len(vectors) != n*int(h.Dim):
		return nil, fmt.Errorf("annindex: %d vector components for %d nodes of dim %d", len(vectors), n, h.Dim)
	case len(norms) != n:
		return nil, fmt.Errorf("annindex: %d norms for %d nodes", len(norms), n)
	case len(neighbors) != n*int(h.M):
		return nil, fmt.Errorf("annindex: %d neighbor slots for %d nodes of degree %d", len(neighbors), n, h.M)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, h.ExpectedSize())
	out = h.appendTo(out)
	for _, v := range vectors {
		out = append(out, byte(v))
	}
	for _, f := range norms {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	for _, nb := range neighbors {
		out = binary.LittleEndian.AppendUint32(out, uint32(nb)) // nolint gosec
	}
	return out, nil
}
