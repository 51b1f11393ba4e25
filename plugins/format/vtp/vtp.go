// Package vtp 实现 VTK XML PolyData（.vtp）折线的读写。
//
// 支持 inline 的 ascii 与 binary（base64，UInt32/UInt64 块头）DataArray，
// 以及多个 Piece；压缩（compressor）与 appended 数据返回 ErrUnsupported。
package vtp

import (
	"context"
	"encoding/xml"
	"strings"

	"tractkit/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Encoding: "ascii"（默认）或 "binary"（base64 inline）。仅影响写出。
	Encoding string `json:"encoding"`
}

// Codec 为 VTK XML PolyData 编解码器。
type Codec struct {
	binary bool
}

// New 创建 VTP 编解码器。
func New(opts *Options) (*Codec, error) {
	c := &Codec{}
	if opts == nil {
		return c, nil
	}
	switch strings.ToLower(strings.TrimSpace(opts.Encoding)) {
	case "", "ascii":
	case "binary":
		c.binary = true
	default:
		return nil, contract.ErrUnsupported
	}
	return c, nil
}

var _ contract.Codec = (*Codec)(nil)

type vtkFile struct {
	XMLName    xml.Name  `xml:"VTKFile"`
	Type       string    `xml:"type,attr"`
	ByteOrder  string    `xml:"byte_order,attr"`
	HeaderType string    `xml:"header_type,attr"`
	Compressor string    `xml:"compressor,attr"`
	PolyData   *polyData `xml:"PolyData"`
	Appended   *struct{} `xml:"AppendedData"`
}

type polyData struct {
	Pieces []piece `xml:"Piece"`
}

type piece struct {
	NumberOfPoints int        `xml:"NumberOfPoints,attr"`
	NumberOfLines  int        `xml:"NumberOfLines,attr"`
	Points         *dataGroup `xml:"Points"`
	Lines          *dataGroup `xml:"Lines"`
}

type dataGroup struct {
	Arrays []dataArray `xml:"DataArray"`
}

type dataArray struct {
	Type               string `xml:"type,attr"`
	Name               string `xml:"Name,attr"`
	NumberOfComponents int    `xml:"NumberOfComponents,attr"`
	Format             string `xml:"format,attr"`
	Data               string `xml:",chardata"`
}

func (g *dataGroup) array(name string) *dataArray {
	if g == nil {
		return nil
	}
	for i := range g.Arrays {
		if strings.EqualFold(g.Arrays[i].Name, name) {
			return &g.Arrays[i]
		}
	}
	return nil
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
