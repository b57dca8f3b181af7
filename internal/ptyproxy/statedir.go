package ptyproxy

import (
	"fmt"
	"os"
	"syscall"
)

// EnsureStateDir idempotently creates dir: mkdir if absent, then stat and
// verify it is owned by the calling user and not a symlink. A pre-existing
// owned directory gets its mode bits repaired to 0700 rather than
// rejected, since a stale 0755 left by an older run is not itself a
// safety violation. Exported so the monitor command can run the same
// check before opening the IPC control socket.
func EnsureStateDir(dir string) error {
	if err := os.Mkdir(dir, 0o700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("ptyproxy: create state dir %s: %w", dir, err)
	}

	info, err := os.Lstat(dir)
	if err != nil {
		return fmt.Errorf("ptyproxy: stat state dir %s: %w", dir, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("ptyproxy: state dir %s is a symlink", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("ptyproxy: state dir %s is not a directory", dir)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("ptyproxy: cannot determine owner of %s", dir)
	}
	if int(stat.Uid) != os.Getuid() {
		return fmt.Errorf("ptyproxy: state dir %s is not owned by the current user", dir)
	}

	if info.Mode().Perm() != 0o700 {
		if err := os.Chmod(dir, 0o700); err != nil {
			return fmt.Errorf("ptyproxy: repair mode bits on %s: %w", dir, err)
		}
	}
	return nil
}
