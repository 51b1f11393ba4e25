// Package vtk 实现 legacy VTK（.vtk）POLYDATA 折线的读写。
//
// 读取支持：
//   - ASCII 与 BINARY（大端）编码；
//   - POINTS 的 float/double 标量；
//   - 经典 LINES 布局（LINES n size + "npts id..."）与 5.x 的 OFFSETS/CONNECTIVITY 布局；
//   - 跳过 METADATA、VERTICES、POLYGONS、TRIANGLE_STRIPS；遇到 POINT_DATA/CELL_DATA/FIELD 即停止。
//
// 写出固定为 4.2 经典布局，点按 Streamline 顺序连续排列。
package vtk

import (
	"context"
	"strings"

	"tractkit/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Encoding: "binary"（默认）或 "ascii"。仅影响写出；读取按文件头自动识别。
	Encoding string `json:"encoding"`
}

// Codec 为 legacy VTK 编解码器。
type Codec struct {
	ascii bool
}

// New 创建 legacy VTK 编解码器。
func New(opts *Options) (*Codec, error) {
	c := &Codec{}
	if opts == nil {
		return c, nil
	}
	switch strings.ToLower(strings.TrimSpace(opts.Encoding)) {
	case "", "binary":
	case "ascii":
		c.ascii = true
	default:
		return nil, contract.ErrUnsupported
	}
	return c, nil
}

var _ contract.Codec = (*Codec)(nil)

const (
	magic        = "# vtk DataFile Version"
	writeVersion = "4.2"
	defaultTitle = "tractkit"
	// 文件头标题行长度上限（VTK 读取端约定 256 字节）
	maxTitle = 255
)

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
