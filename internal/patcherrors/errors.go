// Package patcherrors defines the error taxonomy shared by the BPS and IPS
// decoders and the index manager: format errors, integrity mismatches,
// outdated caches, and source-pairing failures.
package patcherrors

import "fmt"

// FormatError reports a malformed header: wrong magic, truncated header, or
// an unrecognized command-stream opcode.
type FormatError struct {
	Path     string
	Expected string
	Received string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: format error: expected %s, got %s", e.Path, e.Expected, e.Received)
}

// IntegrityMismatchError reports a length or CRC-32 mismatch for the source,
// target, or patch buffer. Kind is one of "source", "target", "patch".
type IntegrityMismatchError struct {
	Path     string
	Kind     string
	Field    string // "length" or "checksum"
	Expected uint64
	Received uint64
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf(
		"%s: %s %s mismatch: expected 0x%x, got 0x%x",
		e.Path, e.Kind, e.Field, e.Expected, e.Received)
}

// OutdatedCacheError reports that a patch file's modification time has
// changed since its header was parsed; the caller should trigger a refresh.
type OutdatedCacheError struct {
	Path string
}

func (e *OutdatedCacheError) Error() string {
	return fmt.Sprintf("%s: patch file changed on disk since it was indexed", e.Path)
}

// SourceMissingError reports that a BPS patch's declared source digest has
// no matching ROM in the current scan.
type SourceMissingError struct {
	Path   string
	Digest uint32
}

func (e *SourceMissingError) Error() string {
	return fmt.Sprintf("%s: no source ROM found with CRC32=0x%08X", e.Path, e.Digest)
}

// SourceAmbiguousError reports that an IPS patch cannot be unambiguously
// paired because more than one candidate source ROM exists.
type SourceAmbiguousError struct {
	Path string
	N    int
}

func (e *SourceAmbiguousError) Error() string {
	return fmt.Sprintf("%s: ambiguous source ROM (%d candidates present, IPS carries no digest)", e.Path, e.N)
}

// IndexOutOfRangeError reports that a well-formed-looking command stream
// produced an out-of-range cursor or slice index; this is a reportable
// decode failure, never a panic or silent wraparound.
type IndexOutOfRangeError struct {
	Path   string
	Detail string
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("%s: index out of range: %s", e.Path, e.Detail)
}
