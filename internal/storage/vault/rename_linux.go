package vault

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bigkaa/homedrive/internal/domain/model"
)

// renameNoReplace атомарно переименовывает src в dst, не перезаписывая dst.
// renameat2(RENAME_NOREPLACE) поддерживается ext4, xfs, btrfs, tmpfs.
// На файловых системах без поддержки флага используется link + unlink.
func renameNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %s", model.ErrDuplicateFilename, dst)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		return linkAndUnlink(src, dst)
	default:
		return &model.IOError{Op: "rename", Path: dst, Err: err}
	}
}

func linkAndUnlink(src, dst string) error {
	if err := unix.Link(src, dst); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateFilename, dst)
		}
		return &model.IOError{Op: "link", Path: dst, Err: err}
	}
	if err := unix.Unlink(src); err != nil {
		return &model.IOError{Op: "unlink", Path: src, Err: err}
	}
	return nil
}
