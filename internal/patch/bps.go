package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/patchfs/patchfs/internal/checksum"
	"github.com/patchfs/patchfs/internal/patcherrors"
	"github.com/patchfs/patchfs/internal/vlq"
)

const bpsFooterSize = 12

const bpsMagic = "BPS1"

const (
	opSourceRead = iota
	opTargetRead
	opSourceCopy
	opTargetCopy
)

// Bps is a parsed BPS patch header, ready to be bound to a source ROM and
// materialised.
type Bps struct {
	patchPath  string
	sourcePath string

	sourceSize   uint64
	targetSize   uint64
	metadataSize uint64
	metadata     []byte

	patchOffset uint64

	sourceDigest uint32
	targetDigest uint32
	patchDigest  uint32

	modTime time.Time
}

// NewBps parses a BPS patch header without reading its command stream or
// binding a source ROM. The whole file is loaded up front:
// BPS patches are small compared to the ROMs they describe, and Materialise
// needs the full command stream in memory anyway.
func NewBps(patchPath string) (*Bps, error) {
	data, err := os.ReadFile(patchPath)
	if err != nil {
		return nil, fmt.Errorf("patch: reading %s: %w", patchPath, err)
	}
	if len(data) < len(bpsMagic)+bpsFooterSize {
		return nil, &patcherrors.FormatError{
			Path:     patchPath,
			Expected: fmt.Sprintf("at least %d bytes", len(bpsMagic)+bpsFooterSize),
			Received: fmt.Sprintf("%d bytes", len(data)),
		}
	}
	if string(data[:len(bpsMagic)]) != bpsMagic {
		return nil, &patcherrors.FormatError{
			Path:     patchPath,
			Expected: bpsMagic,
			Received: string(data[:len(bpsMagic)]),
		}
	}

	cr := &countingReader{r: bytes.NewReader(data[len(bpsMagic):])}
	vr := vlq.NewReader(cr)

	sourceSize, err := vr.ReadUnsigned()
	if err != nil {
		return nil, fmt.Errorf("patch: reading source size from %s: %w", patchPath, err)
	}
	targetSize, err := vr.ReadUnsigned()
	if err != nil {
		return nil, fmt.Errorf("patch: reading target size from %s: %w", patchPath, err)
	}
	metadataSize, err := vr.ReadUnsigned()
	if err != nil {
		return nil, fmt.Errorf("patch: reading metadata size from %s: %w", patchPath, err)
	}

	metadataStart := len(bpsMagic) + int(cr.n)
	metadataEnd := metadataStart + int(metadataSize)
	footerStart := len(data) - bpsFooterSize
	if metadataEnd > footerStart {
		return nil, &patcherrors.FormatError{
			Path:     patchPath,
			Expected: "metadata to fit before the footer",
			Received: fmt.Sprintf("metadata end %d, footer start %d", metadataEnd, footerStart),
		}
	}
	metadata := append([]byte(nil), data[metadataStart:metadataEnd]...)

	footer := data[footerStart:]

	info, err := os.Stat(patchPath)
	if err != nil {
		return nil, fmt.Errorf("patch: stat %s: %w", patchPath, err)
	}

	return &Bps{
		patchPath:    patchPath,
		sourceSize:   sourceSize,
		targetSize:   targetSize,
		metadataSize: metadataSize,
		metadata:     metadata,
		patchOffset:  uint64(metadataEnd),
		sourceDigest: binary.LittleEndian.Uint32(footer[0:4]),
		targetDigest: binary.LittleEndian.Uint32(footer[4:8]),
		patchDigest:  binary.LittleEndian.Uint32(footer[8:12]),
		modTime:      info.ModTime(),
	}, nil
}

// countingReader wraps a *bytes.Reader and tracks how many bytes have been
// consumed via ReadByte, so the caller can learn where the VLQ header ends.
type countingReader struct {
	r *bytes.Reader
	n int64
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// SourceDigest returns the CRC-32 this patch declares for its source ROM,
// used by the index manager to find a matching candidate.
func (p *Bps) SourceDigest() uint32 {
	return p.sourceDigest
}

// BindSource records the path of the source ROM this patch should be
// applied to. It does not verify the binding; that happens lazily in
// Materialise.
func (p *Bps) BindSource(sourcePath string) {
	p.sourcePath = sourcePath
}

// TargetSize implements Patch.
func (p *Bps) TargetSize() uint64 {
	return p.targetSize
}

// Materialise implements Patch.
func (p *Bps) Materialise() ([]byte, error) {
	info, err := os.Stat(p.patchPath)
	if err != nil {
		return nil, fmt.Errorf("patch: stat %s: %w", p.patchPath, err)
	}
	if !info.ModTime().Equal(p.modTime) {
		return nil, &patcherrors.OutdatedCacheError{Path: p.patchPath}
	}

	patchData, err := os.ReadFile(p.patchPath)
	if err != nil {
		return nil, fmt.Errorf("patch: reading %s: %w", p.patchPath, err)
	}
	if uint64(len(patchData)) < bpsFooterSize {
		return nil, &patcherrors.FormatError{Path: p.patchPath, Expected: "well-formed BPS file", Received: "truncated file"}
	}

	commandsEnd := len(patchData) - bpsFooterSize

	gotPatchDigest := checksum.Of(patchData[:len(patchData)-4])
	if gotPatchDigest != p.patchDigest {
		return nil, &patcherrors.IntegrityMismatchError{
			Path: p.patchPath, Kind: "patch", Field: "checksum",
			Expected: uint64(p.patchDigest), Received: uint64(gotPatchDigest),
		}
	}

	source, err := os.ReadFile(p.sourcePath)
	if err != nil {
		return nil, fmt.Errorf("patch: reading source %s: %w", p.sourcePath, err)
	}
	if uint64(len(source)) != p.sourceSize {
		return nil, &patcherrors.IntegrityMismatchError{
			Path: p.patchPath, Kind: "source", Field: "length",
			Expected: p.sourceSize, Received: uint64(len(source)),
		}
	}
	gotSourceDigest := checksum.Of(source)
	if gotSourceDigest != p.sourceDigest {
		return nil, &patcherrors.IntegrityMismatchError{
			Path: p.patchPath, Kind: "source", Field: "checksum",
			Expected: uint64(p.sourceDigest), Received: uint64(gotSourceDigest),
		}
	}

	target := make([]byte, p.targetSize)

	cmdReader := bytes.NewReader(patchData[p.patchOffset:commandsEnd])
	vr := vlq.NewReader(cmdReader)

	var output, sourceRel, targetRel int64

	for cmdReader.Len() > 0 {
		d, err := vr.ReadUnsigned()
		if err != nil {
			return nil, fmt.Errorf("patch: %s: reading command: %w", p.patchPath, err)
		}
		op := d & 3
		length := int64(d>>2) + 1

		if err := checkRange(output, length, int64(len(target)), p.patchPath, "output"); err != nil {
			return nil, err
		}

		switch op {
		case opSourceRead:
			if err := checkRange(output, length, int64(len(source)), p.patchPath, "source (implicit)"); err != nil {
				return nil, err
			}
			copy(target[output:output+length], source[output:output+length])

		case opTargetRead:
			for i := int64(0); i < length; i++ {
				b, err := cmdReader.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("patch: %s: reading literal byte: %w", p.patchPath, err)
				}
				target[output+i] = b
			}

		case opSourceCopy:
			delta, err := vr.ReadSigned()
			if err != nil {
				return nil, fmt.Errorf("patch: %s: reading SourceCopy delta: %w", p.patchPath, err)
			}
			sourceRel += delta
			if err := checkRange(sourceRel, length, int64(len(source)), p.patchPath, "source"); err != nil {
				return nil, err
			}
			copy(target[output:output+length], source[sourceRel:sourceRel+length])
			sourceRel += length

		case opTargetCopy:
			delta, err := vr.ReadSigned()
			if err != nil {
				return nil, fmt.Errorf("patch: %s: reading TargetCopy delta: %w", p.patchPath, err)
			}
			targetRel += delta
			if targetRel < 0 || targetRel > output {
				// targetRel is allowed to walk up to (but not past) the bytes
				// already written; reading ahead of `output` would observe
				// zero-initialised padding rather than patch data.
				return nil, &patcherrors.IndexOutOfRangeError{
					Path:   p.patchPath,
					Detail: fmt.Sprintf("TargetCopy target_rel=%d out of range [0,%d]", targetRel, output),
				}
			}
			// Byte-by-byte and ascending so that targetRel == output mid-copy
			// observes the byte just written (the intended RLE self-reference).
			for i := int64(0); i < length; i++ {
				if output+i >= int64(len(target)) || targetRel+i >= int64(len(target)) {
					return nil, &patcherrors.IndexOutOfRangeError{
						Path:   p.patchPath,
						Detail: "TargetCopy write past end of target buffer",
					}
				}
				target[output+i] = target[targetRel+i]
			}
			targetRel += length

		default:
			// Unreachable: op is masked to two bits.
			return nil, &patcherrors.FormatError{Path: p.patchPath, Expected: "op in [0,3]", Received: fmt.Sprintf("%d", op)}
		}

		output += length
	}

	if output != int64(p.targetSize) {
		return nil, &patcherrors.IndexOutOfRangeError{
			Path:   p.patchPath,
			Detail: fmt.Sprintf("command stream produced %d bytes, want %d", output, p.targetSize),
		}
	}

	gotTargetDigest := checksum.Of(target)
	if gotTargetDigest != p.targetDigest {
		return nil, &patcherrors.IntegrityMismatchError{
			Path: p.patchPath, Kind: "target", Field: "checksum",
			Expected: uint64(p.targetDigest), Received: uint64(gotTargetDigest),
		}
	}

	return target, nil
}

// checkRange reports an IndexOutOfRangeError if [start, start+length) does
// not fit within [0, limit), in place of wide-arithmetic wraparound or a
// panic.
func checkRange(start, length, limit int64, path, what string) error {
	if start < 0 || length < 0 || start+length > limit {
		return &patcherrors.IndexOutOfRangeError{
			Path:   path,
			Detail: fmt.Sprintf("%s range [%d,%d) out of bounds for length %d", what, start, start+length, limit),
		}
	}
	return nil
}
