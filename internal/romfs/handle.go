package romfs

import (
	"sort"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/patchfs/patchfs/internal/patch"
)

// dirHandle buffers the root directory's entry list for one OpenDir/ReadDir
// session. The kernel may call ReadDir several times with an increasing
// Offset as it drains a finite read buffer; snapshotting the name list once,
// at OpenDir time, means every ReadDir call in the session sees a
// consistent listing even if the index refreshes mid-read.
type dirHandle struct {
	fs      *FileSystem
	entries []fuseutil.Dirent
}

func newDirHandle(fs *FileSystem) *dirHandle {
	snap := fs.idx.Snapshot()
	names := make([]string, 0, len(snap.Visible))
	for name := range snap.Visible {
		names = append(names, name)
	}
	sort.Strings(names)

	fs.mu.Lock()
	entries := make([]fuseutil.Dirent, 0, len(names)+2)
	entries = append(entries,
		fuseutil.Dirent{Offset: 1, Inode: rootInode, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Offset: 2, Inode: rootInode, Name: "..", Type: fuseutil.DT_Directory},
	)
	for i, name := range names {
		id := fs.lookupOrAssignInode(name)
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  id,
			Name:   name,
			Type:   fuseutil.DT_File,
		})
	}
	fs.mu.Unlock()

	return &dirHandle{fs: fs, entries: entries}
}

// readDir serves one ReadDir call by writing as many entries starting at
// op.Offset as fit in op.Dst, the way fuseutil.WriteDirent reports back.
func (h *dirHandle) readDir(op *fuseops.ReadDirOp) error {
	if int(op.Offset) > len(h.entries) {
		op.BytesRead = 0
		return nil
	}

	var n int
	for _, e := range h.entries[int(op.Offset):] {
		written := fuseutil.WriteDirent(op.Dst[n:], e)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

// fileHandle owns the materialise-once memoization for a single open file
// description: the first ReadFile on this handle pays the full
// patch-application cost, every subsequent read on the same handle reuses
// the buffer.
type fileHandle struct {
	name string
	p    patch.Patch

	once sync.Once
	data []byte
	err  error
}

func newFileHandle(name string, p patch.Patch) *fileHandle {
	return &fileHandle{name: name, p: p}
}

func (h *fileHandle) materialise() ([]byte, error) {
	h.once.Do(func() {
		h.data, h.err = h.p.Materialise()
	})
	return h.data, h.err
}
