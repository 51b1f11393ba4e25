package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录）。
// 约束：
// 1) 流式读取，按文件维度回调，顺序稳定（命令行顺序；目录内字典序）；
// 2) FileID 稳定且去平台差异化；
// 3) 不做解码，仅提供字节流；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}

// Lister: 可选扩展接口。若实现该接口，编排层可在读取任何文件之前展开 roots，
// 用于前置校验（如基名冲突），保证 fail-fast。
// 返回顺序必须与 Iterate 的回调顺序一致。
type Lister interface {
	List(ctx context.Context, roots []string) ([]FileID, error)
}
