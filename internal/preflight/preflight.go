// Package preflight 在任何读写发生之前检查文件系统前置条件。
// 所有错误均包装 contract 哨兵错误，便于分类与退出码映射。
package preflight

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"tractkit/pkg/contract"
)

// Inputs 要求每个路径存在；allowDirs=false 时还要求是常规文件。
func Inputs(paths []string, allowDirs bool) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no inputs given", contract.ErrPathInvalid)
	}
	for _, p := range paths {
		if p == "" {
			return fmt.Errorf("%w: empty input path", contract.ErrPathInvalid)
		}
		st, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", contract.ErrInputMissing, p)
		}
		if err != nil {
			return err
		}
		if st.IsDir() && !allowDirs {
			return fmt.Errorf("%w: %s is a directory", contract.ErrPathInvalid, p)
		}
	}
	return nil
}

// Outputs 要求各输出文件不存在，除非 overwrite；其父目录必须已存在。
func Outputs(overwrite bool, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			return fmt.Errorf("%w: empty output path", contract.ErrPathInvalid)
		}
		dir := filepath.Dir(p)
		st, err := os.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: output directory %s does not exist", contract.ErrPathInvalid, dir)
		}
		if err != nil {
			return err
		}
		if !st.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", contract.ErrPathInvalid, dir)
		}
		st, err = os.Stat(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return err
		case st.IsDir():
			return fmt.Errorf("%w: output %s is a directory", contract.ErrPathInvalid, p)
		case !overwrite:
			return fmt.Errorf("%w: %s (use --overwrite)", contract.ErrOutputExists, p)
		}
	}
	return nil
}

// OutputDir 检查输出目录：不存在或为空均可；非空时需要 overwrite。
// 仅检查，不创建也不清空（见 PrepareDir）。
func OutputDir(dir string, overwrite bool) error {
	if dir == "" {
		return fmt.Errorf("%w: empty output directory", contract.ErrPathInvalid)
	}
	st, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", contract.ErrPathInvalid, dir)
	}
	empty, err := isEmpty(dir)
	if err != nil {
		return err
	}
	if !empty && !overwrite {
		return fmt.Errorf("%w: %s is not empty (use --overwrite)", contract.ErrOutputExists, dir)
	}
	return nil
}

// PrepareDir 创建目录（含父目录）；clear=true 时删除其中已有的全部条目。
// 返回被删除的条目数。
func PrepareDir(dir string, clear bool) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	if !clear {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

func isEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err == io.EOF {
		return true, nil
	} else if err != nil {
		return false, err
	}
	return false, nil
}
