// Package wire defines the fixed-layout binary messages exchanged between
// mapping agents and the coordinator.
// See doc.go for complete package documentation.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Segment is a fixed (offset, length) byte range within a message buffer.
type Segment struct {
	Offset int // First byte of the segment
	Length int // Number of bytes in the segment
}

// End returns the offset one past the last byte of the segment.
func (s Segment) End() int {
	return s.Offset + s.Length
}

// Field declares one named cell of a layout. Fields are laid out in the
// order they are passed to NewLayout.
type Field struct {
	Name string
	Size int

	sub *Layout
}

// FieldOf declares a field sized to hold a value of type T.
// It panics if T has no fixed binary size.
func FieldOf[T any](name string) Field {
	var zero T
	n := binary.Size(zero)
	if n < 0 {
		panic(fmt.Sprintf("wire: field %q: type %T has no fixed size", name, zero))
	}
	return Field{Name: name, Size: n}
}

// Embed declares a field holding a complete sub-layout. The sub-layout's
// segments become addressable as "name.child".
func Embed(name string, sub *Layout) Field {
	return Field{Name: name, Size: sub.Size(), sub: sub}
}

// Layout is an immutable mapping from field names to contiguous,
// non-overlapping segments. Fields are packed tightly with no padding, so
// the layout's size is the end of its last segment.
type Layout struct {
	order    []string
	segments map[string]Segment
	size     int
}

// NewLayout computes segments for fields in declaration order.
//
// A layout is fixed at construction and never derived from untrusted input,
// so inconsistencies (negative sizes, empty or duplicate names) are
// programming errors and panic.
func NewLayout(fields ...Field) *Layout {
	l := &Layout{segments: make(map[string]Segment)}
	offset := 0
	for _, f := range fields {
		if f.Name == "" {
			panic("wire: layout field has empty name")
		}
		if f.Size < 0 {
			panic(fmt.Sprintf("wire: field %q has negative size %d", f.Name, f.Size))
		}
		seg := Segment{Offset: offset, Length: f.Size}
		l.add(f.Name, seg)
		if f.sub != nil {
			for _, child := range f.sub.order {
				cs := f.sub.segments[child]
				l.segments[f.Name+"."+child] = Segment{Offset: offset + cs.Offset, Length: cs.Length}
			}
		}
		offset = seg.End()
	}
	l.size = offset
	return l
}

func (l *Layout) add(name string, seg Segment) {
	if _, dup := l.segments[name]; dup {
		panic(fmt.Sprintf("wire: duplicate field %q", name))
	}
	l.segments[name] = seg
	l.order = append(l.order, name)
}

// Size returns the total number of bytes a message with this layout holds.
func (l *Layout) Size() int {
	return l.size
}

// Segment returns the segment for a top-level or embedded ("parent.child")
// field. Unknown names panic.
func (l *Layout) Segment(name string) Segment {
	seg, ok := l.segments[name]
	if !ok {
		panic(fmt.Sprintf("wire: unknown field %q", name))
	}
	return seg
}

// Segments returns the top-level segments in declaration order.
func (l *Layout) Segments() []Segment {
	out := make([]Segment, len(l.order))
	for i, name := range l.order {
		out[i] = l.segments[name]
	}
	return out
}

// Message is a fixed-size byte buffer divided into the segments of a layout.
type Message struct {
	layout *Layout
	data   []byte
}

// NewMessage allocates a zeroed buffer of exactly l.Size() bytes.
func NewMessage(l *Layout) *Message {
	return &Message{layout: l, data: make([]byte, l.Size())}
}

// Bytes returns the underlying buffer. Reading into it fills the message.
func (m *Message) Bytes() []byte { return m.data }

// Size returns the length of the buffer.
func (m *Message) Size() int { return len(m.data) }

// Layout returns the message's layout.
func (m *Message) Layout() *Layout { return m.layout }

// Segment is shorthand for m.Layout().Segment(name).
func (m *Message) Segment(name string) Segment { return m.layout.Segment(name) }

// EncodeField writes v into seg using the host's byte order.
// It panics if the encoded size of v differs from seg.Length.
func EncodeField[T any](m *Message, seg Segment, v T) {
	n := binary.Size(v)
	if n != seg.Length {
		panic(fmt.Sprintf("wire: encoding %T (%d bytes) into %d-byte segment", v, n, seg.Length))
	}
	if _, err := binary.Encode(m.data[seg.Offset:seg.End()], binary.NativeEndian, v); err != nil {
		panic(fmt.Sprintf("wire: encoding %T: %v", v, err))
	}
}

// DecodeField reads a T back from seg using the host's byte order.
// It panics if the encoded size of T differs from seg.Length.
func DecodeField[T any](m *Message, seg Segment) T {
	var v T
	n := binary.Size(v)
	if n != seg.Length {
		panic(fmt.Sprintf("wire: decoding %T (%d bytes) from %d-byte segment", v, n, seg.Length))
	}
	if _, err := binary.Decode(m.data[seg.Offset:seg.End()], binary.NativeEndian, &v); err != nil {
		panic(fmt.Sprintf("wire: decoding %T: %v", v, err))
	}
	return v
}
