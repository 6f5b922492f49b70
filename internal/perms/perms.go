// Package perms resolves the effective user and group of the running
// process, used to populate file attributes for the mounted filesystem.
package perms

import "os"

// MyUserAndGroup returns the effective uid and gid of this process, e.g. the
// identity the kernel actually checks file permissions against — not
// necessarily the real uid/gid that invoked the binary.
func MyUserAndGroup() (uid uint32, gid uint32, err error) {
	return uint32(os.Geteuid()), uint32(os.Getegid()), nil
}
