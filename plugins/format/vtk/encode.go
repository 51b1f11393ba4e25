package vtk

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tractkit/pkg/contract"
)

// Encode 以 4.2 经典布局写出 POLYDATA：
//
//	# vtk DataFile Version 4.2
//	<title>
//	ASCII|BINARY
//	DATASET POLYDATA
//	POINTS <n> float|double
//	LINES <nlines> <size>
func (c *Codec) Encode(ctx context.Context, w io.Writer, t *contract.Tractogram) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if t == nil {
		return contract.ErrInvariantViolation
	}
	npts := t.Bundle.NumPoints()
	size := npts + len(t.Bundle)
	if int64(size) > math.MaxInt32 {
		return fmt.Errorf("%w: %d cell values exceed 32-bit legacy LINES", contract.ErrUnsupported, size)
	}
	bw := bufio.NewWriterSize(w, 64*1024)
	enc := "BINARY"
	if c.ascii {
		enc = "ASCII"
	}
	typ := "float"
	if t.Precision == contract.Float64 {
		typ = "double"
	}
	fmt.Fprintf(bw, "%s %s\n%s\n%s\nDATASET POLYDATA\n", magic, writeVersion, title(t.Header), enc)
	fmt.Fprintf(bw, "POINTS %d %s\n", npts, typ)
	if err := c.writePoints(bw, t); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	fmt.Fprintf(bw, "LINES %d %d\n", len(t.Bundle), size)
	if err := c.writeLines(bw, t.Bundle); err != nil {
		return err
	}
	return bw.Flush()
}

func (c *Codec) writePoints(bw *bufio.Writer, t *contract.Tractogram) error {
	double := t.Precision == contract.Float64
	var buf [8]byte
	for _, s := range t.Bundle {
		for _, p := range s {
			if c.ascii {
				if double {
					fmt.Fprintf(bw, "%s %s %s\n", fmtFloat(p[0], 64), fmtFloat(p[1], 64), fmtFloat(p[2], 64))
				} else {
					fmt.Fprintf(bw, "%s %s %s\n", fmtFloat(p[0], 32), fmtFloat(p[1], 32), fmtFloat(p[2], 32))
				}
				continue
			}
			for _, v := range p {
				if double {
					binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
					bw.Write(buf[:8])
				} else {
					binary.BigEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
					bw.Write(buf[:4])
				}
			}
		}
	}
	if !c.ascii {
		bw.WriteByte('\n')
	}
	return nil
}

func (c *Codec) writeLines(bw *bufio.Writer, b contract.Bundle) error {
	var buf [4]byte
	next := 0
	for _, s := range b {
		if c.ascii {
			bw.WriteString(strconv.Itoa(len(s)))
			for range s {
				bw.WriteByte(' ')
				bw.WriteString(strconv.Itoa(next))
				next++
			}
			bw.WriteByte('\n')
			continue
		}
		binary.BigEndian.PutUint32(buf[:], uint32(len(s)))
		bw.Write(buf[:])
		for range s {
			binary.BigEndian.PutUint32(buf[:], uint32(next))
			bw.Write(buf[:])
			next++
		}
	}
	if !c.ascii {
		bw.WriteByte('\n')
	}
	return nil
}

func fmtFloat(v float64, bits int) string {
	return strconv.FormatFloat(v, 'g', -1, bits)
}

// title 生成合法的标题行：单行、长度受限；空标题使用缺省值。
func title(h string) string {
	h = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(h))
	if h == "" {
		return defaultTitle
	}
	if len(h) > maxTitle {
		h = h[:maxTitle]
	}
	return h
}
