package protocol

import "fmt"

// Kind is the wire type of a Format field
type Kind uint8

const (
	KindUint8 Kind = iota
	KindUint32
	KindUint64
	KindString
)

// FieldSpec describes one positional field. Width only matters for strings.
type FieldSpec struct {
	Kind  Kind
	Width int
}

func (f FieldSpec) size() int {
	switch f.Kind {
	case KindUint8:
		return 1
	case KindUint32:
		return 4
	case KindUint64:
		return 8
	default:
		return f.Width
	}
}

func Uint8Field() FieldSpec           { return FieldSpec{Kind: KindUint8} }
func Uint32Field() FieldSpec          { return FieldSpec{Kind: KindUint32} }
func Uint64Field() FieldSpec          { return FieldSpec{Kind: KindUint64} }
func StringField(width int) FieldSpec { return FieldSpec{Kind: KindString, Width: width} }

// Format is an ordered list of fields describing a fixed-shape body
type Format []FieldSpec

// Size returns the total encoded width
func (f Format) Size() int {
	n := 0
	for _, fs := range f {
		n += fs.size()
	}
	return n
}

// Unpack decodes b against the format. Strings come back NUL-trimmed,
// integers as uint8, uint32 or uint64. b must be exactly Size bytes.
func (f Format) Unpack(b []byte) ([]any, error) {
	if len(b) != f.Size() {
		return nil, fmt.Errorf("%w: body is %d bytes, format needs %d", ErrMalformedResponse, len(b), f.Size())
	}
	r := NewReader(b)
	values := make([]any, 0, len(f))
	for _, fs := range f {
		switch fs.Kind {
		case KindUint8:
			values = append(values, r.Uint8())
		case KindUint32:
			values = append(values, r.Uint32())
		case KindUint64:
			values = append(values, r.Uint64())
		case KindString:
			values = append(values, r.FixedString(fs.Width))
		}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return values, nil
}
