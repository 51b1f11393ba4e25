package vtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tractkit/pkg/contract"
)

func sample(prec contract.Precision) *contract.Tractogram {
	b := contract.Bundle{
		{{0, 0, 0}, {1.25, 2.5, -3.75}},
		{},
		{{9, 8, 7}, {6, 5, 4}, {3, 2, 1}},
	}
	return &contract.Tractogram{Precision: prec, Bundle: b}
}

func TestRoundTrip(t *testing.T) {
	for _, enc := range []string{"ascii", "binary"} {
		for _, prec := range []contract.Precision{contract.Float32, contract.Float64} {
			t.Run(fmt.Sprintf("%s/%s", enc, prec), func(t *testing.T) {
				c, err := New(&Options{Encoding: enc})
				require.NoError(t, err)
				in := sample(prec)
				var buf bytes.Buffer
				require.NoError(t, c.Encode(context.Background(), &buf, in))
				out, err := c.Decode(context.Background(), &buf)
				require.NoError(t, err)
				assert.Equal(t, prec, out.Precision)
				require.Len(t, out.Bundle, 3)
				assert.Empty(t, out.Bundle[1])
				assert.Equal(t, contract.Digest(in.Bundle), contract.Digest(out.Bundle))
			})
		}
	}
}

func TestRoundTripEmpty(t *testing.T) {
	c, _ := New(&Options{Encoding: "binary"})
	var buf bytes.Buffer
	require.NoError(t, c.Encode(context.Background(), &buf, &contract.Tractogram{}))
	out, err := c.Decode(context.Background(), &buf)
	require.NoError(t, err)
	assert.NotNil(t, out.Bundle)
	assert.Empty(t, out.Bundle)
}

// 多 Piece、UInt32 块头、大端、Int32 索引
func TestDecodeMultiPieceBigEndian(t *testing.T) {
	enc := func(vals any, n int) string {
		var data bytes.Buffer
		binary.Write(&data, binary.BigEndian, vals)
		var head bytes.Buffer
		binary.Write(&head, binary.BigEndian, uint32(n))
		return base64.StdEncoding.EncodeToString(head.Bytes()) + base64.StdEncoding.EncodeToString(data.Bytes())
	}
	doc := fmt.Sprintf(`<?xml version="1.0"?>
<VTKFile type="PolyData" version="0.1" byte_order="BigEndian">
  <PolyData>
    <Piece NumberOfPoints="2" NumberOfLines="1">
      <Points><DataArray type="Float32" NumberOfComponents="3" format="binary">%s</DataArray></Points>
      <Lines>
        <DataArray type="Int32" Name="connectivity" format="binary">%s</DataArray>
        <DataArray type="Int32" Name="offsets" format="binary">%s</DataArray>
      </Lines>
    </Piece>
    <Piece NumberOfPoints="1" NumberOfLines="1">
      <Points><DataArray type="Float32" NumberOfComponents="3" format="ascii">7 8 9</DataArray></Points>
      <Lines>
        <DataArray type="Int64" Name="connectivity" format="ascii">0</DataArray>
        <DataArray type="Int64" Name="offsets" format="ascii">1</DataArray>
      </Lines>
    </Piece>
  </PolyData>
</VTKFile>`,
		enc([]float32{1, 2, 3, 4, 5, 6}, 24),
		enc([]int32{1, 0}, 8),
		enc([]int32{2}, 4),
	)
	c, _ := New(nil)
	tg, err := c.Decode(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, contract.Bundle{
		{{4, 5, 6}, {1, 2, 3}},
		{{7, 8, 9}},
	}, tg.Bundle)
}

// 块头与数据整体一次编码也应可读
func TestDecodeJointBase64(t *testing.T) {
	var raw bytes.Buffer
	binary.Write(&raw, binary.LittleEndian, uint32(12))
	binary.Write(&raw, binary.LittleEndian, []float32{1, 2, 3})
	doc := `<VTKFile type="PolyData"><PolyData><Piece NumberOfPoints="1" NumberOfLines="1">
<Points><DataArray type="Float32" NumberOfComponents="3" format="binary">` + base64.StdEncoding.EncodeToString(raw.Bytes()) + `</DataArray></Points>
<Lines><DataArray type="Int64" Name="connectivity" format="ascii">0</DataArray><DataArray type="Int64" Name="offsets" format="ascii">1</DataArray></Lines>
</Piece></PolyData></VTKFile>`
	c, _ := New(nil)
	tg, err := c.Decode(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, contract.Bundle{{{1, 2, 3}}}, tg.Bundle)
}

func TestDecodeErrors(t *testing.T) {
	wrap := func(attrs, piece string) string {
		return `<VTKFile type="PolyData"` + attrs + `><PolyData>` + piece + `</PolyData></VTKFile>`
	}
	okPoints := `<Points><DataArray type="Float32" NumberOfComponents="3" format="ascii">0 0 0</DataArray></Points>`
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"not xml", "# vtk DataFile Version 4.2", contract.ErrFormat},
		{"image data", `<VTKFile type="ImageData"><ImageData/></VTKFile>`, contract.ErrUnsupported},
		{"compressed", wrap(` compressor="vtkZLibDataCompressor"`, ""), contract.ErrUnsupported},
		{"appended", `<VTKFile type="PolyData"><PolyData/><AppendedData encoding="raw">_</AppendedData></VTKFile>`, contract.ErrUnsupported},
		{"bad byte order", wrap(` byte_order="Middle"`, ""), contract.ErrFormat},
		{"missing points", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="0"></Piece>`), contract.ErrFormat},
		{"short points", wrap("", `<Piece NumberOfPoints="2" NumberOfLines="0">`+okPoints+`</Piece>`), contract.ErrFormat},
		{"int points", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="0"><Points><DataArray type="Int32" NumberOfComponents="3" format="ascii">0 0 0</DataArray></Points></Piece>`), contract.ErrUnsupported},
		{"missing lines", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="1">`+okPoints+`</Piece>`), contract.ErrFormat},
		{"bad id", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="1">`+okPoints+`<Lines><DataArray type="Int64" Name="connectivity" format="ascii">3</DataArray><DataArray type="Int64" Name="offsets" format="ascii">1</DataArray></Lines></Piece>`), contract.ErrFormat},
		{"bad base64", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="0"><Points><DataArray type="Float32" NumberOfComponents="3" format="binary">!!!!</DataArray></Points></Piece>`), contract.ErrFormat},
		{"huge point count", wrap("", `<Piece NumberOfPoints="3074457345618258603" NumberOfLines="0">`+okPoints+`</Piece>`), contract.ErrFormat},
		{"negative line count", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="-1">`+okPoints+`</Piece>`), contract.ErrFormat},
		{"huge last offset", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="1">`+okPoints+`<Lines><DataArray type="Int64" Name="connectivity" format="ascii">0</DataArray><DataArray type="Int64" Name="offsets" format="ascii">9223372036854775807</DataArray></Lines></Piece>`), contract.ErrFormat},
		{"offset past connectivity", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="2">`+okPoints+`<Lines><DataArray type="Int64" Name="connectivity" format="ascii">0 0</DataArray><DataArray type="Int64" Name="offsets" format="ascii">5 2</DataArray></Lines></Piece>`), contract.ErrFormat},
		{"appended array", wrap("", `<Piece NumberOfPoints="1" NumberOfLines="0"><Points><DataArray type="Float32" NumberOfComponents="3" format="appended"/></Points></Piece>`), contract.ErrUnsupported},
	}
	c, _ := New(nil)
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(context.Background(), strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewInvalidEncoding(t *testing.T) {
	_, err := New(&Options{Encoding: "raw"})
	assert.ErrorIs(t, err, contract.ErrUnsupported)
}
