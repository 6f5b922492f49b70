// Package romfs implements the fuseutil.FileSystem that exposes an
// internal/romindex.Index as a flat, read-only mount point: one root
// directory containing "." and ".." plus one entry per visible patched ROM.
package romfs

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"

	"github.com/patchfs/patchfs/internal/logger"
	"github.com/patchfs/patchfs/internal/patch"
	"github.com/patchfs/patchfs/internal/romindex"
)

// rootInode is always fuseops.RootInodeID; the namespace has no
// subdirectories, so every other inode is a direct child of the root.
const rootInode = fuseops.RootInodeID

// fileMode is the fixed, immutable permission bits exposed for every
// patched file: read-only, no write bit for anyone.
const fileMode os.FileMode = 0o444
const dirMode os.FileMode = 0o555 | os.ModeDir

// FileSystem adapts a romindex.Index to the fuseutil.FileSystem contract.
// It owns two things that must survive index refreshes: a stable
// name-to-inode mapping (so the kernel's dentry cache isn't invalidated by
// every refresh) and a table of open handles.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	mu syncutil.InvariantMutex

	idx *romindex.Index
	uid uint32
	gid uint32

	// GUARDED_BY(mu)
	//
	// inodeByName and nameByInode together form the stable identity map:
	// once a name has been assigned an inode, it keeps that inode for the
	// lifetime of the mount, even across refreshes that temporarily drop
	// and re-add it.
	inodeByName map[string]fuseops.InodeID
	nameByInode map[fuseops.InodeID]string
	nextInode   fuseops.InodeID

	// GUARDED_BY(mu)
	dirHandles  map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*fileHandle
	nextHandle  fuseops.HandleID
}

var _ fuseutil.FileSystem = &FileSystem{}

// New constructs a FileSystem backed by idx, reporting every inode as owned
// by uid/gid — the mounting user's own identity, per
// internal/perms.MyUserAndGroup.
func New(idx *romindex.Index, uid, gid uint32) *FileSystem {
	fs := &FileSystem{
		idx:         idx,
		uid:         uid,
		gid:         gid,
		inodeByName: map[string]fuseops.InodeID{},
		nameByInode: map[fuseops.InodeID]string{},
		nextInode:   fuseops.RootInodeID + 1,
		dirHandles:  map[fuseops.HandleID]*dirHandle{},
		fileHandles: map[fuseops.HandleID]*fileHandle{},
		nextHandle:  1,
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs
}

// INVARIANT: inodeByName and nameByInode are inverses of each other.
// INVARIANT: every inode in nameByInode other than the root is also a key
// of inodeByName's reverse map.
//
// GUARDED_BY(mu)
func (fs *FileSystem) checkInvariants() {
	if len(fs.inodeByName) != len(fs.nameByInode) {
		panic("romfs: inodeByName/nameByInode size mismatch")
	}
	for name, id := range fs.inodeByName {
		if fs.nameByInode[id] != name {
			panic("romfs: inodeByName/nameByInode are not inverses")
		}
	}
}

// lookupOrAssignInode returns the stable inode for name, minting a new one
// on first sight. Must be called with mu held.
func (fs *FileSystem) lookupOrAssignInode(name string) fuseops.InodeID {
	if id, ok := fs.inodeByName[name]; ok {
		return id
	}
	id := fs.nextInode
	fs.nextInode++
	fs.inodeByName[name] = id
	fs.nameByInode[id] = name
	return id
}

func (fs *FileSystem) patchForInode(id fuseops.InodeID) (name string, p patch.Patch, ok bool) {
	fs.mu.Lock()
	name, ok = fs.nameByInode[id]
	fs.mu.Unlock()
	if !ok {
		return "", nil, false
	}
	p, ok = fs.idx.Snapshot().Visible[name]
	return name, p, ok
}

func (fs *FileSystem) rootAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  dirMode,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Mtime: time.Unix(0, 0),
		Atime: time.Unix(0, 0),
		Ctime: time.Unix(0, 0),
	}
}

func (fs *FileSystem) fileAttributes(p patch.Patch) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Size:  p.TargetSize(),
		Mode:  fileMode,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Mtime: time.Unix(0, 0),
		Atime: time.Unix(0, 0),
		Ctime: time.Unix(0, 0),
	}
}

// Init is a no-op: there is no per-mount setup beyond what New already did.
func (fs *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

// StatFS reports a nominal, static filesystem summary; nothing in this
// filesystem's contract depends on free space or inode budgets.
func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent != rootInode {
		return syscall.ENOENT
	}

	snap := fs.idx.Snapshot()
	p, ok := snap.Visible[op.Name]
	if !ok {
		return syscall.ENOENT
	}

	fs.mu.Lock()
	id := fs.lookupOrAssignInode(op.Name)
	fs.mu.Unlock()

	op.Entry = fuseops.ChildInodeEntry{
		Child:      id,
		Attributes: fs.fileAttributes(p),
	}
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == rootInode {
		op.Attributes = fs.rootAttributes()
		return nil
	}

	_, p, ok := fs.patchForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	op.Attributes = fs.fileAttributes(p)
	return nil
}

// ForgetInode drops nothing: the identity map must survive for the inode
// to keep its number stable across the next LookUpInode, so there is
// nothing to release here beyond what the kernel's own lookup count
// already tracks.
func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

// Access reports every inode readable and the root executable/searchable,
// matching the fixed 0444/0555 modes advertised by GetInodeAttributes.
func (fs *FileSystem) Access(ctx context.Context, op *fuseops.AccessOp) error {
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != rootInode {
		return syscall.ENOENT
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	h := fs.nextHandle
	fs.nextHandle++
	fs.dirHandles[h] = newDirHandle(fs)
	op.Handle = h
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	h, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}
	return h.readDir(op)
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	name, p, ok := fs.patchForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}

	fs.mu.Lock()
	h := fs.nextHandle
	fs.nextHandle++
	fs.fileHandles[h] = newFileHandle(name, p)
	fs.mu.Unlock()

	op.Handle = h
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	h, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}

	data, err := h.materialise()
	if err != nil {
		logger.Errorf("romfs: materialising %s: %v", h.name, err)
		return fuse.EIO
	}

	if op.Offset < 0 || uint64(op.Offset) >= uint64(len(data)) {
		op.BytesRead = 0
		return nil
	}
	n := copy(op.Dst, data[op.Offset:])
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) Destroy() {}
