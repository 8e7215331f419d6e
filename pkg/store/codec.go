package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/chazu/voxgraph/pkg/mesh"
	"github.com/chazu/voxgraph/pkg/ops"
	"github.com/chazu/voxgraph/pkg/voxel"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrCorrupt is returned when a stored value fails its integrity check or
// cannot be decoded.
var ErrCorrupt = errors.New("corrupt stored value")

// Encoded layout, little endian:
//
//	magic "VXG" | version | tag
//	mesh: nv u32 | nf u32 | normals u8 | nv*3 f64 | nf*3 u32 | [nv*3 f64]
//	grid: origin 3*f64 | cell f64 | dims 3*u32 | far f64 | n*f64
//	xxhash64 of everything before it
const (
	codecVersion = 1
	tagMesh      = 'm'
	tagGrid      = 'g'
	headerLen    = 5
	trailerLen   = 8
)

type writer struct{ buf []byte }

func (w *writer) u8(v byte)     { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32)  { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) f64(v float64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v)) }
func (w *writer) vec(v r3.Vec)  { w.f64(v.X); w.f64(v.Y); w.f64(v.Z) }

type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = fmt.Errorf("store: %w: truncated", ErrCorrupt)
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) f64() float64 {
	if b := r.take(8); b != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func (r *reader) vec() r3.Vec { return r3.Vec{X: r.f64(), Y: r.f64(), Z: r.f64()} }

// Encode serialises v with an integrity checksum.
func Encode(v ops.Value) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, headerLen+Size(v)+trailerLen)}
	w.buf = append(w.buf, 'V', 'X', 'G', codecVersion)
	switch {
	case v.Mesh != nil:
		m := v.Mesh
		w.u8(tagMesh)
		w.u32(uint32(m.VertexCount()))
		w.u32(uint32(m.FaceCount()))
		if m.HasNormals() {
			w.u8(1)
		} else {
			w.u8(0)
		}
		for i := 0; i < m.VertexCount(); i++ {
			w.vec(m.Vertex(i))
		}
		for i := 0; i < m.FaceCount(); i++ {
			f := m.Face(i)
			w.u32(uint32(f[0]))
			w.u32(uint32(f[1]))
			w.u32(uint32(f[2]))
		}
		for _, n := range m.Normals() {
			w.vec(n)
		}
	case v.Grid != nil:
		g := v.Grid
		l := g.Lattice()
		w.u8(tagGrid)
		w.vec(l.Origin)
		w.f64(l.CellSize)
		w.u32(uint32(l.Dims.X))
		w.u32(uint32(l.Dims.Y))
		w.u32(uint32(l.Dims.Z))
		w.f64(g.Far())
		for i := 0; i < g.Len(); i++ {
			w.f64(g.Value(i))
		}
	default:
		return nil, fmt.Errorf("store: encode: empty value")
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, xxhash.Sum64(w.buf))
	return w.buf, nil
}

// Decode reverses Encode, verifying the checksum first.
func Decode(data []byte) (ops.Value, error) {
	if len(data) < headerLen+trailerLen {
		return ops.Value{}, fmt.Errorf("store: %w: %d bytes", ErrCorrupt, len(data))
	}
	body, sum := data[:len(data)-trailerLen], data[len(data)-trailerLen:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return ops.Value{}, fmt.Errorf("store: %w: checksum mismatch", ErrCorrupt)
	}
	if string(body[:3]) != "VXG" || body[3] != codecVersion {
		return ops.Value{}, fmt.Errorf("store: %w: unknown header %q", ErrCorrupt, body[:4])
	}

	r := &reader{buf: body[4:]}
	var v ops.Value
	switch tag := r.u8(); tag {
	case tagMesh:
		nv, nf := int(r.u32()), int(r.u32())
		hasNormals := r.u8() == 1
		if r.err == nil && 24*nv+12*nf > len(r.buf) {
			return ops.Value{}, fmt.Errorf("store: %w: counts exceed payload", ErrCorrupt)
		}
		vertices := make([]r3.Vec, nv)
		for i := range vertices {
			vertices[i] = r.vec()
		}
		faces := make([]mesh.Face, nf)
		for i := range faces {
			faces[i] = mesh.Face{int(r.u32()), int(r.u32()), int(r.u32())}
		}
		var normals []r3.Vec
		if hasNormals {
			normals = make([]r3.Vec, nv)
			for i := range normals {
				normals[i] = r.vec()
			}
		}
		if r.err != nil {
			return ops.Value{}, r.err
		}
		m, err := mesh.New(vertices, faces)
		if err != nil {
			return ops.Value{}, fmt.Errorf("store: %w: %v", ErrCorrupt, err)
		}
		if hasNormals {
			if m, err = m.WithNormals(normals); err != nil {
				return ops.Value{}, fmt.Errorf("store: %w: %v", ErrCorrupt, err)
			}
		}
		v = ops.MeshValue(m)
	case tagGrid:
		var l voxel.Lattice
		l.Origin = r.vec()
		l.CellSize = r.f64()
		l.Dims = voxel.Dims{X: int(r.u32()), Y: int(r.u32()), Z: int(r.u32())}
		far := r.f64()
		n := l.Dims.Count()
		if r.err == nil && (n < 0 || 8*n != len(r.buf)) {
			return ops.Value{}, fmt.Errorf("store: %w: %d samples for %d payload bytes", ErrCorrupt, n, len(r.buf))
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = r.f64()
		}
		if r.err != nil {
			return ops.Value{}, r.err
		}
		g, err := voxel.Wrap(l, values, far)
		if err != nil {
			return ops.Value{}, fmt.Errorf("store: %w: %v", ErrCorrupt, err)
		}
		v = ops.GridValue(g)
	default:
		return ops.Value{}, fmt.Errorf("store: %w: unknown tag %q", ErrCorrupt, tag)
	}
	if r.err == nil && len(r.buf) != 0 {
		return ops.Value{}, fmt.Errorf("store: %w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	return v, r.err
}

// Size estimates the in-memory footprint of v in bytes.
func Size(v ops.Value) int {
	switch {
	case v.Mesh != nil:
		n := 24*v.Mesh.VertexCount() + 24*v.Mesh.FaceCount()
		if v.Mesh.HasNormals() {
			n += 24 * v.Mesh.VertexCount()
		}
		return n
	case v.Grid != nil:
		return 8 * v.Grid.Len()
	}
	return 0
}
