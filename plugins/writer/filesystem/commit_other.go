//go:build !unix && !windows

package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"tractkit/pkg/contract"
)

// commit 在无 link/MoveFileEx 的平台上退化为“检查后 rename”。
func commit(tmpPath, dest string, replace bool) error {
	if !replace {
		if _, err := os.Lstat(dest); err == nil {
			return fmt.Errorf("%w: %s", contract.ErrOutputExists, dest)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return os.Rename(tmpPath, dest)
}
