package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/patchfs/patchfs/internal/patcherrors"
)

const ipsMagic = "PATCH"

const ipsEOFMarker = 0x454F46 // ASCII "EOF" read as a 24-bit big-endian value.

// ipsRecord is one parsed record of an IPS patch stream, payload included.
type ipsRecord struct {
	offset uint32

	isRLE   bool
	rleSize uint32
	value   byte

	literal []byte
}

// Ips is a parsed IPS patch: its record stream plus the computed (or
// overridden) target size.
type Ips struct {
	patchPath  string
	sourcePath string

	records    []ipsRecord
	targetSize uint64
	truncation *uint64
}

// NewIps parses an IPS patch against the byte length of its already-bound
// source ROM. Unlike BPS, IPS patches carry no digest of their own, so the
// index manager binds the source path before header parse, and target_size
// is seeded from the source ROM's current length.
func NewIps(patchPath, sourcePath string) (*Ips, error) {
	data, err := os.ReadFile(patchPath)
	if err != nil {
		return nil, fmt.Errorf("patch: reading %s: %w", patchPath, err)
	}
	if len(data) < len(ipsMagic) || string(data[:len(ipsMagic)]) != ipsMagic {
		received := "truncated file"
		if len(data) >= len(ipsMagic) {
			received = string(data[:len(ipsMagic)])
		}
		return nil, &patcherrors.FormatError{Path: patchPath, Expected: ipsMagic, Received: received}
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("patch: stat source %s: %w", sourcePath, err)
	}

	records, targetSize, truncation, err := parseIpsRecords(patchPath, data[len(ipsMagic):], uint64(info.Size()))
	if err != nil {
		return nil, err
	}

	return &Ips{
		patchPath:  patchPath,
		sourcePath: sourcePath,
		records:    records,
		targetSize: targetSize,
		truncation: truncation,
	}, nil
}

func parseIpsRecords(patchPath string, body []byte, sourceLen uint64) ([]ipsRecord, uint64, *uint64, error) {
	r := bytes.NewReader(body)
	targetSize := sourceLen
	var records []ipsRecord

	for {
		offset, err := read24(r)
		if err != nil {
			if err == io.EOF {
				return nil, 0, nil, &patcherrors.FormatError{Path: patchPath, Expected: "EOF marker", Received: "truncated record stream"}
			}
			return nil, 0, nil, fmt.Errorf("patch: %s: reading record offset: %w", patchPath, err)
		}
		if offset == ipsEOFMarker {
			break
		}

		size, err := read16(r)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("patch: %s: reading record size: %w", patchPath, err)
		}

		if size == 0 {
			rleSize, err := read16(r)
			if err != nil {
				return nil, 0, nil, fmt.Errorf("patch: %s: reading RLE size: %w", patchPath, err)
			}
			value, err := r.ReadByte()
			if err != nil {
				return nil, 0, nil, fmt.Errorf("patch: %s: reading RLE value: %w", patchPath, err)
			}
			records = append(records, ipsRecord{offset: offset, isRLE: true, rleSize: rleSize, value: value})
			if end := uint64(offset) + uint64(rleSize); end > targetSize {
				targetSize = end
			}
			continue
		}

		literal := make([]byte, size)
		if _, err := io.ReadFull(r, literal); err != nil {
			return nil, 0, nil, &patcherrors.FormatError{Path: patchPath, Expected: "full literal payload", Received: "truncated record stream"}
		}
		records = append(records, ipsRecord{offset: offset, literal: literal})
		if end := uint64(offset) + uint64(size); end > targetSize {
			targetSize = end
		}
	}

	var truncation *uint64
	if t, err := read24(r); err == nil {
		tv := uint64(t)
		truncation = &tv
	}

	return records, targetSize, truncation, nil
}

func read24(r *bytes.Reader) (uint32, error) {
	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func read16(r *bytes.Reader) (uint32, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return uint32(binary.BigEndian.Uint16(b[:])), nil
}

// TargetSize implements Patch.
func (p *Ips) TargetSize() uint64 {
	if p.truncation != nil {
		return *p.truncation
	}
	return p.targetSize
}

// Materialise implements Patch.
func (p *Ips) Materialise() ([]byte, error) {
	source, err := os.ReadFile(p.sourcePath)
	if err != nil {
		return nil, fmt.Errorf("patch: reading source %s: %w", p.sourcePath, err)
	}

	target := make([]byte, p.targetSize)
	copy(target, source)

	for _, rec := range p.records {
		if rec.isRLE {
			if err := checkRange(int64(rec.offset), int64(rec.rleSize), int64(len(target)), p.patchPath, "RLE fill"); err != nil {
				return nil, err
			}
			for i := uint32(0); i < rec.rleSize; i++ {
				target[rec.offset+i] = rec.value
			}
			continue
		}

		size := int64(len(rec.literal))
		if err := checkRange(int64(rec.offset), size, int64(len(target)), p.patchPath, "literal copy"); err != nil {
			return nil, err
		}
		copy(target[rec.offset:uint64(rec.offset)+uint64(len(rec.literal))], rec.literal)
	}

	if p.truncation != nil {
		t := *p.truncation
		if t > uint64(len(target)) {
			grown := make([]byte, t)
			copy(grown, target)
			target = grown
		} else {
			target = target[:t]
		}
	}

	return target, nil
}
