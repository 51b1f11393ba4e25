package vtp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"tractkit/pkg/contract"
)

// Encode 写出单 Piece 的 PolyData；offsets 为每条线的结束位置（VTK XML 约定）。
func (c *Codec) Encode(ctx context.Context, w io.Writer, t *contract.Tractogram) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if t == nil {
		return contract.ErrInvariantViolation
	}
	npts := t.Bundle.NumPoints()
	ftype := "Float32"
	if t.Precision == contract.Float64 {
		ftype = "Float64"
	}
	format := "ascii"
	if c.binary {
		format = "binary"
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	bw.WriteString("<?xml version=\"1.0\"?>\n")
	bw.WriteString("<VTKFile type=\"PolyData\" version=\"1.0\" byte_order=\"LittleEndian\" header_type=\"UInt64\">\n")
	bw.WriteString("  <PolyData>\n")
	fmt.Fprintf(bw, "    <Piece NumberOfPoints=\"%d\" NumberOfVerts=\"0\" NumberOfLines=\"%d\" NumberOfStrips=\"0\" NumberOfPolys=\"0\">\n", npts, len(t.Bundle))

	bw.WriteString("      <Points>\n")
	fmt.Fprintf(bw, "        <DataArray type=\"%s\" Name=\"Points\" NumberOfComponents=\"3\" format=\"%s\">\n", ftype, format)
	c.writePoints(bw, t)
	bw.WriteString("        </DataArray>\n")
	bw.WriteString("      </Points>\n")

	if err := checkCtx(ctx); err != nil {
		return err
	}
	bw.WriteString("      <Lines>\n")
	fmt.Fprintf(bw, "        <DataArray type=\"Int64\" Name=\"connectivity\" format=\"%s\">\n", format)
	conn := make([]int64, npts)
	for i := range conn {
		conn[i] = int64(i)
	}
	c.writeInts(bw, conn)
	bw.WriteString("        </DataArray>\n")
	fmt.Fprintf(bw, "        <DataArray type=\"Int64\" Name=\"offsets\" format=\"%s\">\n", format)
	ends := make([]int64, len(t.Bundle))
	var end int64
	for i, s := range t.Bundle {
		end += int64(len(s))
		ends[i] = end
	}
	c.writeInts(bw, ends)
	bw.WriteString("        </DataArray>\n")
	bw.WriteString("      </Lines>\n")

	bw.WriteString("    </Piece>\n")
	bw.WriteString("  </PolyData>\n")
	bw.WriteString("</VTKFile>\n")
	return bw.Flush()
}

func (c *Codec) writePoints(bw *bufio.Writer, t *contract.Tractogram) {
	double := t.Precision == contract.Float64
	if !c.binary {
		bits := 32
		if double {
			bits = 64
		}
		for _, s := range t.Bundle {
			for _, p := range s {
				fmt.Fprintf(bw, "          %s %s %s\n",
					strconv.FormatFloat(p[0], 'g', -1, bits),
					strconv.FormatFloat(p[1], 'g', -1, bits),
					strconv.FormatFloat(p[2], 'g', -1, bits))
			}
		}
		return
	}
	var raw bytes.Buffer
	for _, s := range t.Bundle {
		for _, p := range s {
			for _, v := range p {
				if double {
					binary.Write(&raw, binary.LittleEndian, math.Float64bits(v))
				} else {
					binary.Write(&raw, binary.LittleEndian, math.Float32bits(float32(v)))
				}
			}
		}
	}
	writeBlock(bw, raw.Bytes())
}

func (c *Codec) writeInts(bw *bufio.Writer, vals []int64) {
	if !c.binary {
		const perLine = 12
		for i := 0; i < len(vals); i += perLine {
			bw.WriteString("          ")
			for j := i; j < len(vals) && j < i+perLine; j++ {
				if j > i {
					bw.WriteByte(' ')
				}
				bw.WriteString(strconv.FormatInt(vals[j], 10))
			}
			bw.WriteByte('\n')
		}
		return
	}
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	writeBlock(bw, raw)
}

// writeBlock 按 VTK 约定分别对块头（UInt64 字节数）与数据做 base64 编码。
func writeBlock(bw *bufio.Writer, data []byte) {
	var head [8]byte
	binary.LittleEndian.PutUint64(head[:], uint64(len(data)))
	bw.WriteString("          ")
	bw.WriteString(base64.StdEncoding.EncodeToString(head[:]))
	bw.WriteString(base64.StdEncoding.EncodeToString(data))
	bw.WriteByte('\n')
}
