//go:build !linux

package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bigkaa/homedrive/internal/domain/model"
)

// renameNoReplace переименовывает src в dst, не перезаписывая dst.
// Без renameat2 используется link + remove: os.Link не перезаписывает цель.
func renameNoReplace(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateFilename, dst)
		}
		return &model.IOError{Op: "link", Path: dst, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return &model.IOError{Op: "remove", Path: src, Err: err}
	}
	return nil
}
