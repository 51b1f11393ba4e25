//go:build windows

package filesystem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"tractkit/pkg/contract"
)

// commit 用 MoveFileEx 发布临时文件；WRITE_THROUGH 代替目录 fsync。
// replace=false 时不带 REPLACE_EXISTING，目标已存在返回 ErrOutputExists。
func commit(tmpPath, dest string, replace bool) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	flags := uint32(windows.MOVEFILE_WRITE_THROUGH)
	if replace {
		flags |= windows.MOVEFILE_REPLACE_EXISTING
	}
	err = windows.MoveFileEx(from, to, flags)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) || errors.Is(err, windows.ERROR_FILE_EXISTS) {
		return fmt.Errorf("%w: %s", contract.ErrOutputExists, dest)
	}
	return err
}
