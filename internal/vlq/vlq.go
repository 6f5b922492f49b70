// Package vlq decodes the variable-length quantities used by the BPS patch
// format: an incrementing, little-endian base-128 encoding, distinct from
// plain LEB128 in that each continuation byte contributes an implicit "+1"
// via a growing shift term.
package vlq

import (
	"fmt"
	"io"
)

// Reader decodes unsigned and signed VLQs from an underlying byte source.
type Reader struct {
	r io.ByteReader
}

// NewReader wraps r for VLQ decoding.
func NewReader(r io.ByteReader) *Reader {
	return &Reader{r: r}
}

// ReadUnsigned decodes a single BPS unsigned VLQ.
//
// Accumulation: value = 0, shift = 1; for each byte b, value += (b & 0x7F) *
// shift; if b has its high bit set, that byte terminates the quantity;
// otherwise shift *= 128, value += shift, and decoding continues.
func (r *Reader) ReadUnsigned() (uint64, error) {
	var value uint64
	var shift uint64 = 1

	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("vlq: %w", io.ErrUnexpectedEOF)
			}
			return 0, fmt.Errorf("vlq: reading byte: %w", err)
		}

		value += uint64(b&0x7f) * shift
		if b&0x80 != 0 {
			return value, nil
		}

		shift *= 128
		value += shift
	}
}

// ReadSigned decodes a signed VLQ: the magnitude is the unsigned VLQ's value
// shifted right by one, and the sign is carried in its low bit (1 = negative).
func (r *Reader) ReadSigned() (int64, error) {
	d, err := r.ReadUnsigned()
	if err != nil {
		return 0, err
	}

	magnitude := int64(d >> 1)
	if d&1 != 0 {
		return -magnitude, nil
	}
	return magnitude, nil
}

// EncodeUnsigned renders v as a BPS unsigned VLQ, mostly useful for tests
// exercising the round-trip law (spec property 3).
func EncodeUnsigned(v uint64) []byte {
	var out []byte
	for {
		if v < 128 {
			out = append(out, byte(v)|0x80)
			return out
		}
		out = append(out, byte(v%128))
		v = v/128 - 1
	}
}

// EncodeSigned renders v as a BPS signed VLQ (property 2).
func EncodeSigned(v int64) []byte {
	neg := uint64(0)
	magnitude := v
	if v < 0 {
		neg = 1
		magnitude = -v
	}
	return EncodeUnsigned(uint64(magnitude)<<1 | neg)
}
