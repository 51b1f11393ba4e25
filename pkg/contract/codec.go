package contract

import (
	"context"
	"io"
)

// Codec: tractogram 文件格式编解码。
// Decode 读取完整文件并返回 Tractogram；Encode 将 Tractogram 完整写出。
// 实现须为同步、无内部并发；格式错误以 ErrFormat 包装返回。
type Codec interface {
	Decode(ctx context.Context, r io.Reader) (*Tractogram, error)
	Encode(ctx context.Context, w io.Writer, t *Tractogram) error
}
