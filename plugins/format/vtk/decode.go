package vtk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tractkit/pkg/contract"
)

// Decode 读取完整的 legacy VTK 文件。
func (c *Codec) Decode(ctx context.Context, r io.Reader) (*contract.Tractogram, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	p := &parser{br: bufio.NewReaderSize(r, 64*1024)}
	return p.parse(ctx)
}

type parser struct {
	br     *bufio.Reader
	binary bool
	major  int
	line   int
}

func (p *parser) errorf(format string, a ...any) error {
	return fmt.Errorf("%w: line %d: %s", contract.ErrFormat, p.line, fmt.Sprintf(format, a...))
}

func (p *parser) parse(ctx context.Context) (*contract.Tractogram, error) {
	head, err := p.readLine()
	if err != nil {
		return nil, p.errorf("missing header")
	}
	if !strings.HasPrefix(head, magic) {
		return nil, p.errorf("not a legacy VTK file")
	}
	p.major = parseMajor(strings.TrimSpace(strings.TrimPrefix(head, magic)))

	title, err := p.readLine()
	if err != nil {
		return nil, p.errorf("missing title")
	}
	t := &contract.Tractogram{Header: strings.TrimSpace(title), Precision: contract.Float32}

	enc, err := p.readLine()
	if err != nil {
		return nil, p.errorf("missing encoding")
	}
	switch strings.ToUpper(strings.TrimSpace(enc)) {
	case "ASCII":
	case "BINARY":
		p.binary = true
	default:
		return nil, p.errorf("unknown encoding %q", enc)
	}

	ds, err := p.keywordLine()
	if err != nil {
		return nil, p.errorf("missing DATASET")
	}
	if len(ds) != 2 || !strings.EqualFold(ds[0], "DATASET") {
		return nil, p.errorf("expected DATASET, got %q", strings.Join(ds, " "))
	}
	if !strings.EqualFold(ds[1], "POLYDATA") {
		return nil, fmt.Errorf("%w: dataset %s", contract.ErrUnsupported, ds[1])
	}

	var points []contract.Point
	var lines [][]int64
	for {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		f, err := p.keywordLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		kw := strings.ToUpper(f[0])
		switch kw {
		case "POINTS":
			if len(f) != 3 {
				return nil, p.errorf("malformed POINTS line")
			}
			n, err := p.count(f[1])
			if err != nil {
				return nil, err
			}
			prec, err := pointPrecision(f[2])
			if err != nil {
				return nil, err
			}
			t.Precision = prec
			if points, err = p.readPoints(n, f[2]); err != nil {
				return nil, err
			}
		case "METADATA":
			if err := p.skipMetadata(); err != nil {
				return nil, err
			}
		case "LINES":
			cells, err := p.readCells(f)
			if err != nil {
				return nil, err
			}
			lines = cells
		case "VERTICES", "POLYGONS", "TRIANGLE_STRIPS":
			if _, err := p.readCells(f); err != nil {
				return nil, err
			}
		case "POINT_DATA", "CELL_DATA", "FIELD":
			// 属性数据不参与拼接/拆分，忽略其后全部内容
			return assemble(t, points, lines)
		default:
			return nil, p.errorf("unexpected section %q", f[0])
		}
	}
	return assemble(t, points, lines)
}

// assemble 按 cell 的点索引构造 Streamline。
func assemble(t *contract.Tractogram, points []contract.Point, lines [][]int64) (*contract.Tractogram, error) {
	bundle := make(contract.Bundle, 0, len(lines))
	for i, ids := range lines {
		s := make(contract.Streamline, len(ids))
		for j, id := range ids {
			if id < 0 || id >= int64(len(points)) {
				return nil, fmt.Errorf("%w: line %d references point %d of %d", contract.ErrFormat, i, id, len(points))
			}
			s[j] = points[id]
		}
		bundle = append(bundle, s)
	}
	t.Bundle = bundle
	return t, nil
}

// readCells 读取 LINES/VERTICES/... 区段，返回每个 cell 的点索引。
func (p *parser) readCells(f []string) ([][]int64, error) {
	if len(f) != 3 {
		return nil, p.errorf("malformed %s line", f[0])
	}
	a, err := p.count(f[1])
	if err != nil {
		return nil, err
	}
	b, err := p.count(f[2])
	if err != nil {
		return nil, err
	}
	if p.major >= 5 {
		return p.readOffsetCells(a, b)
	}
	return p.readClassicCells(a, b)
}

// 经典布局：n 个 cell，共 size 个整数，每个 cell 为 [npts, id0, id1, ...]。
func (p *parser) readClassicCells(n, size int) ([][]int64, error) {
	raw, err := p.readInts(size, "int")
	if err != nil {
		return nil, err
	}
	// 每个 cell 至少占一个值（npts）
	if n > len(raw) {
		return nil, p.errorf("%d cells cannot fit in %d values", n, size)
	}
	cells := make([][]int64, 0, n)
	pos := 0
	for i := 0; i < n; i++ {
		if pos >= len(raw) {
			return nil, p.errorf("cell %d past end of %d values", i, size)
		}
		npts := raw[pos]
		pos++
		if npts < 0 || int64(pos)+npts > int64(len(raw)) {
			return nil, p.errorf("cell %d declares %d points", i, npts)
		}
		cells = append(cells, raw[pos:pos+int(npts)])
		pos += int(npts)
	}
	if pos != len(raw) {
		return nil, p.errorf("cells use %d of %d values", pos, size)
	}
	return cells, nil
}

// 5.x 布局：OFFSETS（n+1 个）与 CONNECTIVITY（size 个）。
func (p *parser) readOffsetCells(nOff, nConn int) ([][]int64, error) {
	f, err := p.keywordLine()
	if err != nil {
		return nil, p.errorf("missing OFFSETS")
	}
	if len(f) != 2 || !strings.EqualFold(f[0], "OFFSETS") {
		return nil, p.errorf("expected OFFSETS, got %q", strings.Join(f, " "))
	}
	offsets, err := p.readInts(nOff, f[1])
	if err != nil {
		return nil, err
	}
	f, err = p.keywordLine()
	if err != nil {
		return nil, p.errorf("missing CONNECTIVITY")
	}
	if len(f) != 2 || !strings.EqualFold(f[0], "CONNECTIVITY") {
		return nil, p.errorf("expected CONNECTIVITY, got %q", strings.Join(f, " "))
	}
	conn, err := p.readInts(nConn, f[1])
	if err != nil {
		return nil, err
	}
	if nOff == 0 {
		if nConn != 0 {
			return nil, p.errorf("connectivity without offsets")
		}
		return nil, nil
	}
	if offsets[0] != 0 || offsets[nOff-1] != int64(len(conn)) {
		return nil, p.errorf("offsets must span [0,%d]", len(conn))
	}
	cells := make([][]int64, 0, nOff-1)
	for i := 0; i+1 < nOff; i++ {
		lo, hi := offsets[i], offsets[i+1]
		if lo < 0 || hi < lo || hi > int64(len(conn)) {
			return nil, p.errorf("cell %d offsets [%d,%d) outside %d connectivity values", i, lo, hi, len(conn))
		}
		cells = append(cells, conn[lo:hi])
	}
	return cells, nil
}

func (p *parser) readPoints(n int, typ string) ([]contract.Point, error) {
	vals, err := p.readFloats(3*n, typ)
	if err != nil {
		return nil, err
	}
	pts := make([]contract.Point, n)
	for i := range pts {
		pts[i] = contract.Point{vals[3*i], vals[3*i+1], vals[3*i+2]}
	}
	return pts, nil
}

func pointPrecision(typ string) (contract.Precision, error) {
	switch strings.ToLower(typ) {
	case "float":
		return contract.Float32, nil
	case "double":
		return contract.Float64, nil
	default:
		return 0, fmt.Errorf("%w: point type %s", contract.ErrUnsupported, typ)
	}
}

func (p *parser) readFloats(n int, typ string) ([]float64, error) {
	prec, err := pointPrecision(typ)
	if err != nil {
		return nil, err
	}
	if p.binary {
		size := 4
		if prec == contract.Float64 {
			size = 8
		}
		buf, err := p.readBlock(n, size)
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			if size == 4 {
				out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:])))
			} else {
				out[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
			}
		}
		return out, nil
	}
	bits := 32
	if prec == contract.Float64 {
		bits = 64
	}
	out := make([]float64, 0, min(n, preallocMax))
	for i := 0; i < n; i++ {
		tok, err := p.token()
		if err != nil {
			return nil, p.errorf("expected %d values, got %d", n, i)
		}
		v, err := strconv.ParseFloat(tok, bits)
		if err != nil {
			return nil, p.errorf("bad float %q", tok)
		}
		out = append(out, v)
	}
	return out, nil
}

func intSize(typ string) (int, error) {
	switch strings.ToLower(typ) {
	case "int", "vtktypeint32":
		return 4, nil
	case "vtktypeint64", "long":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: integer type %s", contract.ErrUnsupported, typ)
	}
}

func (p *parser) readInts(n int, typ string) ([]int64, error) {
	size, err := intSize(typ)
	if err != nil {
		return nil, err
	}
	if p.binary {
		buf, err := p.readBlock(n, size)
		if err != nil {
			return nil, err
		}
		out := make([]int64, n)
		for i := range out {
			if size == 4 {
				out[i] = int64(int32(binary.BigEndian.Uint32(buf[4*i:])))
			} else {
				out[i] = int64(binary.BigEndian.Uint64(buf[8*i:]))
			}
		}
		return out, nil
	}
	out := make([]int64, 0, min(n, preallocMax))
	for i := 0; i < n; i++ {
		tok, err := p.token()
		if err != nil {
			return nil, p.errorf("expected %d integers, got %d", n, i)
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, p.errorf("bad integer %q", tok)
		}
		out = append(out, v)
	}
	return out, nil
}

// readBlock 读取 n 个定长二进制值。
// 缓冲随实际读到的数据增长，截断的输入不会按头部声明的大小分配。
func (p *parser) readBlock(n, size int) ([]byte, error) {
	want := int64(n) * int64(size)
	var buf bytes.Buffer
	buf.Grow(int(min(want, int64(preallocMax)*8)))
	got, err := io.CopyN(&buf, p.br, want)
	if err != nil {
		return nil, p.errorf("truncated binary block (%d of %d bytes): %v", got, want, err)
	}
	return buf.Bytes(), nil
}

// skipMetadata 跳过 METADATA 区段（以空行结束）。
func (p *parser) skipMetadata() error {
	for {
		l, err := p.readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(l) == "" {
			return nil
		}
	}
}

// readLine 读取一行（去除行尾 \r\n）。文件末尾无数据时返回 io.EOF。
func (p *parser) readLine() (string, error) {
	s, err := p.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			p.line++
			return strings.TrimRight(s, "\r"), nil
		}
		return "", err
	}
	p.line++
	return strings.TrimRight(s, "\r\n"), nil
}

// keywordLine 跳过空行，返回下一非空行的字段。
func (p *parser) keywordLine() ([]string, error) {
	for {
		l, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if f := strings.Fields(l); len(f) > 0 {
			return f, nil
		}
	}
}

// token 读取下一个以空白分隔的 ASCII 记号。
func (p *parser) token() (string, error) {
	var sb strings.Builder
	for {
		b, err := p.br.ReadByte()
		if err != nil {
			if sb.Len() > 0 && errors.Is(err, io.EOF) {
				return sb.String(), nil
			}
			return "", err
		}
		if isSpace(b) {
			if b == '\n' {
				p.line++
			}
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			continue
		}
		sb.WriteByte(b)
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

const (
	// maxCount 保证 3*n 个 float64 的字节数不溢出 int。
	maxCount = math.MaxInt / 24
	// preallocMax 为按头部计数预分配的上限（元素个数）。
	preallocMax = 1 << 16
)

func (p *parser) count(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, p.errorf("bad count %q", s)
	}
	if n > maxCount {
		return 0, p.errorf("count %d too large", n)
	}
	return n, nil
}

// parseMajor 解析 "5.1" 形式的主版本号；无法解析时按经典布局（0）处理。
func parseMajor(v string) int {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}
