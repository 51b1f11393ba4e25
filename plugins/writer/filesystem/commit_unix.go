//go:build unix

package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"tractkit/pkg/contract"
)

// commit 把已落盘的临时文件发布为 dest，并同步父目录。
// replace=false 时用 link 发布：dest 已存在则返回 ErrOutputExists，不覆盖。
// 临时文件始终由调用方清理（link 成功后它只是多余的目录项）。
func commit(tmpPath, dest string, replace bool) error {
	if replace {
		if err := os.Rename(tmpPath, dest); err != nil {
			return err
		}
	} else {
		if err := os.Link(tmpPath, dest); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s", contract.ErrOutputExists, dest)
			}
			return err
		}
		_ = os.Remove(tmpPath)
	}
	fd, err := unix.Open(filepath.Dir(dest), unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		// 目录同步失败不影响已发布的文件
		return nil
	}
	defer unix.Close(fd)
	_ = unix.Fsync(fd)
	return nil
}
