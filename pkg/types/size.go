package types

import "fmt"

var sizeSuffixes = [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatSize renders v, expressed in the unit at index base (0 = bytes,
// 2 = MB), with binary 1024 steps. Values below 1024 keep the base unit and
// no decimals; larger values get two decimals and the first unit under 1024.
//
//	FormatSize(500, 0)     // "500B"
//	FormatSize(1048576, 0) // "1.00MB"
//	FormatSize(2048, 2)    // "2.00GB"
func FormatSize(v uint64, base int) string {
	if base < 0 || base >= len(sizeSuffixes) {
		base = 0
	}
	if v < 1024 {
		return fmt.Sprintf("%d%s", v, sizeSuffixes[base])
	}

	f := float64(v)
	for _, suffix := range sizeSuffixes[base:] {
		if f < 1024 {
			return fmt.Sprintf("%.2f%s", f, suffix)
		}
		f /= 1024
	}
	// past YB; undo the last step and stay on the largest unit
	return fmt.Sprintf("%.2f%s", f*1024, sizeSuffixes[len(sizeSuffixes)-1])
}

// Space is a capacity or byte counter together with the unit it is reported in
type Space struct {
	Value uint64
	Unit  int
}

func (s Space) String() string {
	return FormatSize(s.Value, s.Unit)
}

// MarshalText renders the human readable size
func (s Space) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MB returns the value converted to megabytes, rounding down
func (s Space) MB() uint64 {
	v := s.Value
	for u := s.Unit; u < 2; u++ {
		v /= 1024
	}
	for u := s.Unit; u > 2; u-- {
		v *= 1024
	}
	return v
}
