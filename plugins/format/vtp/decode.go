package vtp

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tractkit/pkg/contract"
)

// Decode 读取完整的 .vtp 文件；多个 Piece 的折线按出现顺序拼接。
func (c *Codec) Decode(ctx context.Context, r io.Reader) (*contract.Tractogram, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var f vtkFile
	if err := xml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrFormat, err)
	}
	if f.Type != "PolyData" || f.PolyData == nil {
		return nil, fmt.Errorf("%w: VTKFile type %q", contract.ErrUnsupported, f.Type)
	}
	if f.Compressor != "" {
		return nil, fmt.Errorf("%w: compressor %s", contract.ErrUnsupported, f.Compressor)
	}
	if f.Appended != nil {
		return nil, fmt.Errorf("%w: appended data", contract.ErrUnsupported)
	}
	lay, err := newLayout(f.ByteOrder, f.HeaderType)
	if err != nil {
		return nil, err
	}

	t := &contract.Tractogram{Precision: contract.Float32}
	for i, pc := range f.PolyData.Pieces {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		b, prec, err := lay.piece(pc)
		if err != nil {
			return nil, fmt.Errorf("piece %d: %w", i, err)
		}
		t.Precision = contract.Wider(t.Precision, prec)
		t.Bundle = append(t.Bundle, b...)
	}
	if t.Bundle == nil {
		t.Bundle = contract.Bundle{}
	}
	return t, nil
}

// layout 描述 binary DataArray 的字节序与块头宽度。
type layout struct {
	order  binary.ByteOrder
	header int
}

func newLayout(byteOrder, headerType string) (layout, error) {
	l := layout{order: binary.LittleEndian, header: 4}
	switch byteOrder {
	case "", "LittleEndian":
	case "BigEndian":
		l.order = binary.BigEndian
	default:
		return l, fmt.Errorf("%w: byte_order %q", contract.ErrFormat, byteOrder)
	}
	switch headerType {
	case "", "UInt32":
	case "UInt64":
		l.header = 8
	default:
		return l, fmt.Errorf("%w: header_type %q", contract.ErrUnsupported, headerType)
	}
	return l, nil
}

// maxCount 保证 3*n 个 8 字节值的字节数不溢出 int。
const maxCount = math.MaxInt / 24

func (l layout) piece(pc piece) (contract.Bundle, contract.Precision, error) {
	prec := contract.Float32
	if pc.NumberOfPoints < 0 || pc.NumberOfPoints > maxCount || pc.NumberOfLines < 0 || pc.NumberOfLines > maxCount {
		return nil, prec, fmt.Errorf("%w: piece counts %d points, %d lines out of range", contract.ErrFormat, pc.NumberOfPoints, pc.NumberOfLines)
	}
	var pts []float64
	if pc.NumberOfPoints > 0 {
		if pc.Points == nil || len(pc.Points.Arrays) == 0 {
			return nil, prec, fmt.Errorf("%w: missing Points array", contract.ErrFormat)
		}
		pa := pc.Points.Arrays[0]
		if pa.NumberOfComponents != 0 && pa.NumberOfComponents != 3 {
			return nil, prec, fmt.Errorf("%w: points have %d components", contract.ErrFormat, pa.NumberOfComponents)
		}
		switch pa.Type {
		case "Float32":
		case "Float64":
			prec = contract.Float64
		default:
			return nil, prec, fmt.Errorf("%w: point type %s", contract.ErrUnsupported, pa.Type)
		}
		var err error
		if pts, err = l.values(pa, 3*pc.NumberOfPoints); err != nil {
			return nil, prec, err
		}
	}
	if pc.NumberOfLines == 0 {
		return contract.Bundle{}, prec, nil
	}
	conn := pc.Lines.array("connectivity")
	offs := pc.Lines.array("offsets")
	if conn == nil || offs == nil {
		return nil, prec, fmt.Errorf("%w: Lines need connectivity and offsets", contract.ErrFormat)
	}
	ends, err := l.ints(*offs, pc.NumberOfLines)
	if err != nil {
		return nil, prec, err
	}
	var last int64
	if len(ends) > 0 {
		last = ends[len(ends)-1]
	}
	if last < 0 || last > maxCount {
		return nil, prec, fmt.Errorf("%w: last offset %d out of range", contract.ErrFormat, last)
	}
	nconn := int(last)
	ids, err := l.ints(*conn, nconn)
	if err != nil {
		return nil, prec, err
	}

	// offsets 为每条线的结束位置（不含起点 0）
	bundle := make(contract.Bundle, 0, pc.NumberOfLines)
	var start int64
	for i, end := range ends {
		if end < start || end > int64(len(ids)) {
			return nil, prec, fmt.Errorf("%w: offsets decrease at line %d", contract.ErrFormat, i)
		}
		s := make(contract.Streamline, 0, end-start)
		for _, id := range ids[start:end] {
			if id < 0 || id >= int64(pc.NumberOfPoints) {
				return nil, prec, fmt.Errorf("%w: line %d references point %d of %d", contract.ErrFormat, i, id, pc.NumberOfPoints)
			}
			s = append(s, contract.Point{pts[3*id], pts[3*id+1], pts[3*id+2]})
		}
		bundle = append(bundle, s)
		start = end
	}
	return bundle, prec, nil
}

// values 解析浮点 DataArray，要求恰好 n 个值。
func (l layout) values(a dataArray, n int) ([]float64, error) {
	switch a.Format {
	case "ascii":
		bits := 32
		if a.Type == "Float64" {
			bits = 64
		}
		fields := strings.Fields(a.Data)
		if len(fields) != n {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", contract.ErrFormat, a.Type, len(fields), n)
		}
		out := make([]float64, n)
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, bits)
			if err != nil {
				return nil, fmt.Errorf("%w: bad float %q", contract.ErrFormat, s)
			}
			out[i] = v
		}
		return out, nil
	case "binary":
		size := typeSize(a.Type)
		raw, err := l.block(a.Data, n*size)
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			if size == 4 {
				out[i] = float64(math.Float32frombits(l.order.Uint32(raw[4*i:])))
			} else {
				out[i] = math.Float64frombits(l.order.Uint64(raw[8*i:]))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: DataArray format %q", contract.ErrUnsupported, a.Format)
	}
}

// ints 解析整型 DataArray，要求恰好 n 个值。
func (l layout) ints(a dataArray, n int) ([]int64, error) {
	size := typeSize(a.Type)
	if (size != 4 && size != 8) || strings.HasPrefix(a.Type, "Float") {
		return nil, fmt.Errorf("%w: index type %s", contract.ErrUnsupported, a.Type)
	}
	switch a.Format {
	case "ascii":
		fields := strings.Fields(a.Data)
		if len(fields) != n {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", contract.ErrFormat, a.Name, len(fields), n)
		}
		out := make([]int64, n)
		for i, s := range fields {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad integer %q", contract.ErrFormat, s)
			}
			out[i] = v
		}
		return out, nil
	case "binary":
		raw, err := l.block(a.Data, n*size)
		if err != nil {
			return nil, err
		}
		unsigned := strings.HasPrefix(a.Type, "UInt")
		out := make([]int64, n)
		for i := range out {
			switch {
			case size == 4 && unsigned:
				out[i] = int64(l.order.Uint32(raw[4*i:]))
			case size == 4:
				out[i] = int64(int32(l.order.Uint32(raw[4*i:])))
			default:
				out[i] = int64(l.order.Uint64(raw[8*i:]))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: DataArray format %q", contract.ErrUnsupported, a.Format)
	}
}

// block 解码 inline binary 数据：base64([块头: 数据字节数]) + base64(数据)。
// VTK 对块头与数据分别编码（中间可能带填充）；也兼容整体一次编码的写法。
func (l layout) block(data string, want int) ([]byte, error) {
	s := strings.Join(strings.Fields(data), "")
	hchars := base64.StdEncoding.EncodedLen(l.header)
	if len(s) >= hchars {
		if head, err := base64.StdEncoding.DecodeString(s[:hchars]); err == nil && len(head) == l.header {
			if body, err := base64.StdEncoding.DecodeString(s[hchars:]); err == nil {
				if err := l.checkHeader(head, len(body), want); err != nil {
					return nil, err
				}
				return body, nil
			}
		}
	}
	all, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(all) < l.header {
		return nil, fmt.Errorf("%w: bad base64 block", contract.ErrFormat)
	}
	body := all[l.header:]
	if err := l.checkHeader(all[:l.header], len(body), want); err != nil {
		return nil, err
	}
	return body, nil
}

func (l layout) checkHeader(head []byte, got, want int) error {
	var declared uint64
	if l.header == 4 {
		declared = uint64(l.order.Uint32(head))
	} else {
		declared = l.order.Uint64(head)
	}
	if declared != uint64(want) || got < want {
		return fmt.Errorf("%w: binary block declares %d bytes (have %d, want %d)", contract.ErrFormat, declared, got, want)
	}
	return nil
}

func typeSize(t string) int {
	switch t {
	case "Int8", "UInt8":
		return 1
	case "Int16", "UInt16":
		return 2
	case "Int32", "UInt32", "Float32":
		return 4
	case "Int64", "UInt64", "Float64":
		return 8
	default:
		return 0
	}
}
