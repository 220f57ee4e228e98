package protocol

import "fmt"

// Record is a fixed-width structure carried in response bodies. Width must not
// depend on the receiver's contents so that list lengths can be derived from
// the body length alone.
type Record interface {
	Width() int
	DecodeFrom(r *Reader)
	EncodeTo(w *Writer)
}

// DecodeOne decodes body as a single record of type T
func DecodeOne[T any, P interface {
	*T
	Record
}](body []byte) (*T, error) {
	v := new(T)
	rec := P(v)
	if len(body) != rec.Width() {
		return nil, fmt.Errorf("%w: body is %d bytes, record is %d", ErrMalformedResponse, len(body), rec.Width())
	}
	r := NewReader(body)
	rec.DecodeFrom(r)
	if err := r.Done(); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeList decodes body as len(body)/width records of type T
func DecodeList[T any, P interface {
	*T
	Record
}](body []byte) ([]T, error) {
	var zero T
	width := P(&zero).Width()
	if width <= 0 || len(body)%width != 0 {
		return nil, fmt.Errorf("%w: body of %d bytes is not a multiple of record width %d", ErrMalformedResponse, len(body), width)
	}

	r := NewReader(body)
	out := make([]T, len(body)/width)
	for i := range out {
		P(&out[i]).DecodeFrom(r)
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return out, nil
}
