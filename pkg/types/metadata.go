package types

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cuemby/fdfs/pkg/protocol"
)

var (
	// ErrInvalidMetadata is returned for items that cannot be encoded losslessly
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrInvalidExtension is returned for extensions wider than the wire field
	ErrInvalidExtension = errors.New("invalid file extension")

	// ErrInvalidFileID is returned by SplitFileID for ids not shaped "group/filename"
	ErrInvalidFileID = errors.New("invalid file id")

	// ErrInvalidGroupName is returned for group names that do not fit the wire field
	ErrInvalidGroupName = errors.New("invalid group name")
)

// MetaItem is one name/value pair
type MetaItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata is an ordered list of name/value pairs attached to a stored file
type Metadata []MetaItem

// MetadataFromMap builds Metadata sorted by name
func MetadataFromMap(m map[string]string) Metadata {
	md := make(Metadata, 0, len(m))
	for k, v := range m {
		md = append(md, MetaItem{Name: k, Value: v})
	}
	slices.SortFunc(md, func(a, b MetaItem) int { return strings.Compare(a.Name, b.Name) })
	return md
}

// Get returns the value for name
func (md Metadata) Get(name string) (string, bool) {
	for _, it := range md {
		if it.Name == name {
			return it.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing name or appends a new item
func (md *Metadata) Set(name, value string) {
	for i := range *md {
		if (*md)[i].Name == name {
			(*md)[i].Value = value
			return
		}
	}
	*md = append(*md, MetaItem{Name: name, Value: value})
}

// Map converts to a map; later duplicates win
func (md Metadata) Map() map[string]string {
	m := make(map[string]string, len(md))
	for _, it := range md {
		m[it.Name] = it.Value
	}
	return m
}

// Validate checks every item against the wire limits
func (md Metadata) Validate() error {
	for _, it := range md {
		switch {
		case it.Name == "":
			return fmt.Errorf("%w: empty name", ErrInvalidMetadata)
		case len(it.Name) > protocol.MaxMetaNameLen:
			return fmt.Errorf("%w: name %q longer than %d bytes", ErrInvalidMetadata, it.Name, protocol.MaxMetaNameLen)
		case len(it.Value) > protocol.MaxMetaValueLen:
			return fmt.Errorf("%w: value of %q longer than %d bytes", ErrInvalidMetadata, it.Name, protocol.MaxMetaValueLen)
		case hasSeparator(it.Name) || hasSeparator(it.Value):
			return fmt.Errorf("%w: %q contains a reserved separator byte", ErrInvalidMetadata, it.Name)
		}
	}
	return nil
}

func hasSeparator(s string) bool {
	return strings.IndexByte(s, protocol.RecordSeparator) >= 0 || strings.IndexByte(s, protocol.FieldSeparator) >= 0
}

// PackMeta encodes md as name FieldSeparator value records joined by
// RecordSeparator. Empty metadata encodes to an empty slice.
func PackMeta(md Metadata) ([]byte, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	for i, it := range md {
		if i > 0 {
			b.WriteByte(protocol.RecordSeparator)
		}
		b.WriteString(it.Name)
		b.WriteByte(protocol.FieldSeparator)
		b.WriteString(it.Value)
	}
	return b.Bytes(), nil
}

// UnpackMeta is the inverse of PackMeta. Duplicate names keep their first
// position and take the last value.
func UnpackMeta(b []byte) (Metadata, error) {
	md := Metadata{}
	if len(b) == 0 {
		return md, nil
	}
	for _, rec := range bytes.Split(b, []byte{protocol.RecordSeparator}) {
		name, value, ok := bytes.Cut(rec, []byte{protocol.FieldSeparator})
		if !ok {
			return nil, fmt.Errorf("%w: metadata record %q has no field separator", protocol.ErrMalformedResponse, rec)
		}
		md.Set(string(name), string(value))
	}
	return md, nil
}
