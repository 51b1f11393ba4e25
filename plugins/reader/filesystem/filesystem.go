package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"tractkit/pkg/contract"
)

// DefaultInclude 为目录扫描时的默认文件名过滤（大小写不敏感）。
const DefaultInclude = "*.{vtk,vtp}"

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配）。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Include: 目录内文件基名的 glob 过滤，默认 DefaultInclude。
	// 显式给出的文件 root 不受影响。
	Include string `json:"include"`
}

// FileSystem 实现基于文件系统的 Reader 与 Lister。
// 文件 root 原样产出；目录按字典序递归（先子目录，后文件）。
type FileSystem struct {
	bufSize int
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
	include    glob.Glob
}

// New 创建 FileSystem Reader；include 非法时返回错误。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	if opts == nil {
		opts = &Options{}
	}
	b := defaultBuf
	if opts.BufSize > 0 {
		b = opts.BufSize
	}
	ex := make(map[string]struct{})
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		ex[strings.ToLower(name)] = struct{}{}
	}
	pattern := strings.TrimSpace(opts.Include)
	if pattern == "" {
		pattern = DefaultInclude
	}
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("include %q: %w", pattern, err)
	}
	return &FileSystem{bufSize: b, excludeDir: ex, include: g}, nil
}

var (
	_ contract.Reader = (*FileSystem)(nil)
	_ contract.Lister = (*FileSystem)(nil)
)

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// yield 负责关闭 rc；yield 返回错误时由 Iterate 关闭。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	return r.visit(ctx, roots, func(p string) error {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		brc := newBufferedCloser(f, r.bufSize)
		if err := yield(contract.NormalizeFileID(p), brc); err != nil {
			_ = brc.Close()
			return err
		}
		return nil
	})
}

// List 以与 Iterate 相同的顺序展开 roots，不打开文件。
func (r *FileSystem) List(ctx context.Context, roots []string) ([]contract.FileID, error) {
	var ids []contract.FileID
	err := r.visit(ctx, roots, func(p string) error {
		ids = append(ids, contract.NormalizeFileID(p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *FileSystem) visit(ctx context.Context, roots []string, fn func(p string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("%w: no input roots", contract.ErrPathInvalid)
	}
	for _, root := range roots {
		if root == "" || root == "-" {
			return fmt.Errorf("%w: %q", contract.ErrPathInvalid, root)
		}
		if err := r.visitOne(ctx, root, fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) visitOne(ctx context.Context, root string, fn func(string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return missing(root, err)
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return missing(root, err)
		}
		if t.Mode().IsRegular() {
			return fn(root)
		}
		return nil
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, fn)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return fn(root)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, fn func(string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), fn); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.include.Match(strings.ToLower(e.Name())) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return missing(p, err)
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、管道等
			continue
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func missing(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", contract.ErrInputMissing, p)
	}
	return err
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
