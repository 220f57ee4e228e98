package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fdfs/pkg/protocol"
)

// field is one positional entry of a record table. ref returns a pointer to
// the struct member; its type selects the wire encoding and the rendering:
// *string is a NUL padded string of width bytes, *time.Time a 64-bit unix
// timestamp, *Space a 64-bit counter reported in unit, *bool a flag byte.
type field[T any] struct {
	name  string
	width int
	unit  int
	ref   func(*T) any
}

func str[T any](name string, width int, ref func(*T) *string) field[T] {
	return field[T]{name: name, width: width, ref: func(t *T) any { return ref(t) }}
}

func u64[T any](name string, ref func(*T) *uint64) field[T] {
	return field[T]{name: name, ref: func(t *T) any { return ref(t) }}
}

func u32[T any](name string, ref func(*T) *uint32) field[T] {
	return field[T]{name: name, ref: func(t *T) any { return ref(t) }}
}

func stamp[T any](name string, ref func(*T) *time.Time) field[T] {
	return field[T]{name: name, ref: func(t *T) any { return ref(t) }}
}

func space[T any](name string, unit int, ref func(*T) *Space) field[T] {
	return field[T]{name: name, unit: unit, ref: func(t *T) any { return ref(t) }}
}

func flag[T any](name string, ref func(*T) *bool) field[T] {
	return field[T]{name: name, ref: func(t *T) any { return ref(t) }}
}

func status[T any](name string, ref func(*T) *StorageStatus) field[T] {
	return field[T]{name: name, ref: func(t *T) any { return ref(t) }}
}

// table is the ordered field list of one record type
type table[T any] []field[T]

// width sums the encoded size of every field
func (tb table[T]) width() int {
	var zero T
	n := 0
	for _, f := range tb {
		switch f.ref(&zero).(type) {
		case *string:
			n += f.width
		case *uint32:
			n += 4
		case *bool, *StorageStatus:
			n++
		default:
			n += 8
		}
	}
	return n
}

func (tb table[T]) decode(t *T, r *protocol.Reader) {
	for _, f := range tb {
		switch p := f.ref(t).(type) {
		case *string:
			*p = r.FixedString(f.width)
		case *uint64:
			*p = r.Uint64()
		case *uint32:
			*p = r.Uint32()
		case *time.Time:
			*p = time.Unix(r.Int64(), 0)
		case *Space:
			*p = Space{Value: r.Uint64(), Unit: f.unit}
		case *bool:
			*p = r.Uint8() != 0
		case *StorageStatus:
			*p = StorageStatus(r.Uint8())
		}
	}
}

func (tb table[T]) encode(t *T, w *protocol.Writer) {
	for _, f := range tb {
		switch p := f.ref(t).(type) {
		case *string:
			w.FixedString(*p, f.width)
		case *uint64:
			w.Uint64(*p)
		case *uint32:
			w.Uint32(*p)
		case *time.Time:
			w.Int64(p.Unix())
		case *Space:
			w.Uint64(p.Value)
		case *bool:
			if *p {
				w.Uint8(1)
			} else {
				w.Uint8(0)
			}
		case *StorageStatus:
			w.Uint8(uint8(*p))
		}
	}
}

// render prints one "name = value" line per field, the way the tracker
// monitor tool lays records out
func (tb table[T]) render(t *T, title string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, f := range tb {
		var v string
		switch p := f.ref(t).(type) {
		case *time.Time:
			v = p.Format(time.RFC3339)
		default:
			v = fmt.Sprint(deref(p))
		}
		fmt.Fprintf(&b, "\t%s = %s\n", strings.ReplaceAll(f.name, "_", " "), v)
	}
	return b.String()
}

func deref(p any) any {
	switch p := p.(type) {
	case *string:
		return *p
	case *uint64:
		return *p
	case *uint32:
		return *p
	case *Space:
		return *p
	case *bool:
		return *p
	case *StorageStatus:
		return *p
	default:
		return p
	}
}
