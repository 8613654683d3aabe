// Package ioutils contains serialization helpers shared by the runtime and
// proof encoders.
package ioutils

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ronanh/intcomp"
)

// maxSliceLen bounds any length prefix read from untrusted input, so a
// corrupt header cannot drive an unbounded allocation.
const maxSliceLen = 1 << 28

// CompressAndWriteUints64 compresses a slice of uint64 and writes it to w,
// prefixed with the compressed word count.
func CompressAndWriteUints64(w io.Writer, input []uint64) error {
	buffer := intcomp.CompressUint64(input, nil)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(buffer))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, buffer)
}

// ReadAndDecompressUints64 reads a compressed slice of uint64 from r and
// decompresses it. It returns the number of bytes read, the decompressed
// slice and an error.
func ReadAndDecompressUints64(r io.Reader) (int, []uint64, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return 0, nil, err
	}
	if length > maxSliceLen {
		return 8, nil, fmt.Errorf("invalid length prefix %d", length)
	}
	buffer := make([]uint64, length)
	if err := binary.Read(r, binary.LittleEndian, buffer); err != nil {
		return 8, nil, err
	}
	return 8 + 8*int(length), intcomp.UncompressUint64(buffer, nil), nil
}

// WriteBytes writes a length-prefixed byte slice. It returns the number of
// bytes written.
func WriteBytes(w io.Writer, b []byte) (int, error) {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return 8 + n, err
}

// ReadBytes reads a length-prefixed byte slice. It returns the number of
// bytes read and the slice.
func ReadBytes(r io.Reader) (int, []byte, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return 0, nil, err
	}
	if length > maxSliceLen {
		return 8, nil, fmt.Errorf("invalid length prefix %d", length)
	}
	b := make([]byte, length)
	n, err := io.ReadFull(r, b)
	if err != nil {
		return 8 + n, nil, err
	}
	return 8 + n, b, nil
}
