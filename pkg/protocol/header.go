package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 10 byte frame prefix of every request and response
type Header struct {
	Length uint64
	Cmd    Command
	Status uint8
}

// EncodeHeader packs a request header; the status byte of a request is always 0
func EncodeHeader(length uint64, cmd Command) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, length, cmd)
	return buf
}

func putHeader(buf []byte, length uint64, cmd Command) {
	binary.BigEndian.PutUint64(buf[0:8], length)
	buf[8] = byte(cmd)
	buf[9] = 0
}

// DecodeHeader is the inverse of EncodeHeader. Only the first HeaderSize bytes are read.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedHeader, len(b), HeaderSize)
	}
	return Header{
		Length: binary.BigEndian.Uint64(b[0:8]),
		Cmd:    Command(b[8]),
		Status: b[9],
	}, nil
}
