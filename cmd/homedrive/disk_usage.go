package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// getDiskUsage возвращает ёмкость файловой системы директории в байтах.
func getDiskUsage(path string) (total, used, available int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - int64(stat.Bfree)*int64(stat.Bsize)

	return total, used, available, nil
}
