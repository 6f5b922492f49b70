// Package romindex scans a base directory for source ROMs and patch files,
// pairs each patch with its source, and publishes the resulting visible
// file set as an atomically-swapped snapshot.
package romindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"
	"go.uber.org/multierr"

	"github.com/patchfs/patchfs/internal/checksum"
	"github.com/patchfs/patchfs/internal/logger"
	"github.com/patchfs/patchfs/internal/patch"
	"github.com/patchfs/patchfs/internal/patcherrors"
)

// romExtensions is the fixed set of candidate-source-ROM extensions,
// matched case-insensitively.
var romExtensions = map[string]bool{
	"bin": true, "rom": true, "crt": true, "nes": true, "fds": true,
	"sfc": true, "smc": true, "vb": true, "n64": true, "v64": true,
	"z64": true, "gb": true, "gbc": true, "gba": true, "agb": true,
	"nds": true, "3ds": true,
}

// Snapshot is an immutable view of the visible file set published by a
// completed refresh. Callers must treat the maps as read-only; a new
// Snapshot entirely replaces the old one.
type Snapshot struct {
	Visible         map[string]patch.Patch
	SourcesByDigest map[uint32]string
}

// Index owns the mutable mapping from a base directory's contents to the
// patches it makes visible. The current Snapshot is swapped in as a single
// atomic update so no reader ever observes a half-built index.
type Index struct {
	mu syncutil.InvariantMutex

	baseDir string

	// GUARDED_BY(mu)
	snapshot Snapshot
}

// New constructs an Index over baseDir with an empty initial snapshot.
// Callers must call Refresh at least once before relying on Snapshot.
func New(baseDir string) *Index {
	idx := &Index{
		baseDir: baseDir,
		snapshot: Snapshot{
			Visible:         map[string]patch.Patch{},
			SourcesByDigest: map[uint32]string{},
		},
	}
	idx.mu = syncutil.NewInvariantMutex(idx.checkInvariants)
	return idx
}

// INVARIANT: every value in snapshot.Visible is non-nil.
//
// GUARDED_BY(mu)
func (idx *Index) checkInvariants() {
	for name, p := range idx.snapshot.Visible {
		if p == nil {
			panic(fmt.Sprintf("romindex: nil patch published for visible name %q", name))
		}
	}
}

// Snapshot returns the currently published snapshot.
func (idx *Index) Snapshot() Snapshot {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.snapshot
}

// Refresh rescans the base directory and publishes a new snapshot.
// Per-patch failures are logged and excluded; the refresh itself only
// fails if the base directory cannot be enumerated at all.
func (idx *Index) Refresh() error {
	correlationID := uuid.NewString()

	entries, err := os.ReadDir(idx.baseDir)
	if err != nil {
		return fmt.Errorf("romindex: reading %s: %w", idx.baseDir, err)
	}

	var sourceCandidates, bpsCandidates, ipsCandidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch extensionOf(name) {
		case "bps":
			bpsCandidates = append(bpsCandidates, name)
		case "ips":
			ipsCandidates = append(ipsCandidates, name)
		default:
			if romExtensions[extensionOf(name)] {
				sourceCandidates = append(sourceCandidates, name)
			}
		}
	}

	sourcesByDigest, diag := digestSources(idx.baseDir, sourceCandidates, correlationID)

	if len(sourcesByDigest) == 0 {
		logger.Warnf("romindex[%s]: no source ROMs found under %s", correlationID, idx.baseDir)
		idx.publish(Snapshot{Visible: map[string]patch.Patch{}, SourcesByDigest: sourcesByDigest})
		return nil
	}

	visible := map[string]patch.Patch{}

	for _, name := range bpsCandidates {
		path := filepath.Join(idx.baseDir, name)
		p, err := patch.NewBps(path)
		if err != nil {
			logger.Warnf("romindex[%s]: skipping %s: %v", correlationID, path, err)
			diag = multierr.Append(diag, err)
			continue
		}
		sourcePath, ok := sourcesByDigest[p.SourceDigest()]
		if !ok {
			missing := &patcherrors.SourceMissingError{Path: path, Digest: p.SourceDigest()}
			logger.Warnf("romindex[%s]: skipping %s: %v", correlationID, path, missing)
			diag = multierr.Append(diag, missing)
			continue
		}
		p.BindSource(sourcePath)
		visible[visibleName(name, sourcePath)] = p
	}

	for _, name := range ipsCandidates {
		path := filepath.Join(idx.baseDir, name)

		if len(sourcesByDigest) > 1 {
			ambiguous := &patcherrors.SourceAmbiguousError{Path: path, N: len(sourcesByDigest)}
			logger.Warnf("romindex[%s]: skipping %s: %v", correlationID, path, ambiguous)
			diag = multierr.Append(diag, ambiguous)
			continue
		}

		var sourcePath string
		for _, sp := range sourcesByDigest {
			sourcePath = sp
		}

		p, err := patch.NewIps(path, sourcePath)
		if err != nil {
			logger.Warnf("romindex[%s]: skipping %s: %v", correlationID, path, err)
			diag = multierr.Append(diag, err)
			continue
		}
		visible[visibleName(name, sourcePath)] = p
	}

	idx.publish(Snapshot{Visible: visible, SourcesByDigest: sourcesByDigest})

	if diag != nil {
		logger.Debugf("romindex[%s]: refresh completed with diagnostics: %v", correlationID, diag)
	}
	return nil
}

func (idx *Index) publish(snap Snapshot) {
	idx.mu.Lock()
	idx.snapshot = snap
	idx.mu.Unlock()
}

// digestSources computes the CRC-32 of every candidate source ROM. Empty
// files are skipped: a zero-length file is more likely a write still in
// progress than a genuine ROM. On digest collision, the later candidate
// (by directory-scan order) wins.
func digestSources(baseDir string, candidates []string, correlationID string) (map[uint32]string, error) {
	sourcesByDigest := map[uint32]string{}
	var diag error

	for _, name := range candidates {
		path := filepath.Join(baseDir, name)

		info, err := os.Stat(path)
		if err != nil {
			diag = multierr.Append(diag, fmt.Errorf("%s: stat: %w", path, err))
			continue
		}
		if info.Size() == 0 {
			logger.Debugf("romindex[%s]: skipping empty candidate source %s", correlationID, path)
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			diag = multierr.Append(diag, fmt.Errorf("%s: read: %w", path, err))
			continue
		}

		sourcesByDigest[checksum.Of(data)] = path
	}

	return sourcesByDigest, diag
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// visibleName is the patch filename with its extension replaced by the
// bound source ROM's extension.
func visibleName(patchName, sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	base := strings.TrimSuffix(patchName, filepath.Ext(patchName))
	return base + ext
}
