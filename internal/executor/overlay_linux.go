//go:build linux

package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// setupOverlayRO implements spec.md §4.6.1 step 2, "Optional overlay-ro
// root": make mounts private, create a scratch upper/work/root, mount a
// tmpfs at <scratch>/tmp, mount an overlay (lowerdir=current root) at
// <scratch>/root, mount proc inside it, bind the tmpfs into <root>/tmp,
// pivot_root into <root> (falling back to chroot), detach the old root, and
// remount / read-only. Runs inside the jailer, after the parent has already
// unshared a mount namespace, so none of this touches the host's mount
// table.
func setupOverlayRO() error {
	scratch, err := os.MkdirTemp("", "magicrune-overlay-")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}

	upper := filepath.Join(scratch, "upper")
	work := filepath.Join(scratch, "work")
	root := filepath.Join(scratch, "root")
	tmp := filepath.Join(scratch, "tmp")
	for _, dir := range []string{upper, work, root, tmp} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("making mounts private: %w", err)
	}

	if err := unix.Mount("tmpfs", tmp, "tmpfs", 0, ""); err != nil {
		return fmt.Errorf("mounting tmpfs at %s: %w", tmp, err)
	}

	overlayData := fmt.Sprintf("lowerdir=/,upperdir=%s,workdir=%s", upper, work)
	if err := unix.Mount("overlay", root, "overlay", 0, overlayData); err != nil {
		return fmt.Errorf("mounting overlay at %s: %w", root, err)
	}

	procDir := filepath.Join(root, "proc")
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", procDir, err)
	}
	if err := unix.Mount("proc", procDir, "proc", 0, ""); err != nil {
		return fmt.Errorf("mounting proc at %s: %w", procDir, err)
	}

	rootTmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(rootTmp, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", rootTmp, err)
	}
	if err := unix.Mount(tmp, rootTmp, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind-mounting tmpfs into %s: %w", rootTmp, err)
	}

	if err := pivotIntoRoot(root); err != nil {
		return err
	}

	if err := unix.Mount("", "/", "", unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("remounting / read-only: %w", err)
	}
	return nil
}

// pivotIntoRoot makes root the process's new root via pivot_root, detaching
// the old one; if pivot_root is unavailable (e.g. root is itself on the same
// mount as its parent, or the kernel denies it), it falls back to chroot per
// spec.md §4.6.1.
func pivotIntoRoot(root string) error {
	oldRoot := filepath.Join(root, ".old_root")
	if err := os.MkdirAll(oldRoot, 0o700); err == nil {
		if err := unix.PivotRoot(root, oldRoot); err == nil {
			if err := unix.Chdir("/"); err != nil {
				return fmt.Errorf("chdir after pivot_root: %w", err)
			}
			if err := unix.Unmount("/.old_root", unix.MNT_DETACH); err != nil {
				return fmt.Errorf("detaching old root: %w", err)
			}
			_ = os.RemoveAll("/.old_root")
			return nil
		}
	}

	if err := unix.Chroot(root); err != nil {
		return fmt.Errorf("chroot fallback into %s: %w", root, err)
	}
	return unix.Chdir("/")
}
