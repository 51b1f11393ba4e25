package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tractkit/pkg/contract"
)

// A(3) / B(0) / C(2) 场景
func exampleIndex(t *testing.T) Index {
	t.Helper()
	var b Builder
	require.NoError(t, b.Add("in/A.vtk", 3))
	require.NoError(t, b.Add("in/B.vtk", 0))
	require.NoError(t, b.Add("other/C.vtk", 2))
	return b.Index()
}

func TestBuilderOrderAndLength(t *testing.T) {
	idx := exampleIndex(t)
	require.Len(t, idx, 3)
	assert.Equal(t, Entry{Name: "A.vtk", Order: 0, Length: 3}, idx[0])
	assert.Equal(t, Entry{Name: "B.vtk", Order: 1, Length: 0}, idx[1])
	assert.Equal(t, Entry{Name: "C.vtk", Order: 2, Length: 2}, idx[2])
	assert.Equal(t, 5, idx.Total())
	assert.NoError(t, idx.Validate(5))
	assert.ErrorIs(t, idx.Validate(6), contract.ErrIndexInvalid)
}

func TestBuilderCollision(t *testing.T) {
	var b Builder
	require.NoError(t, b.Add("sub-01/AF_L.vtk", 10))
	err := b.Add("sub-02/AF_L.vtk", 4)
	require.ErrorIs(t, err, contract.ErrNameCollision)
	// 冲突项不得覆盖原有记录
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 10, b.Index()[0].Length)

	assert.ErrorIs(t, b.Add("x.vtk", -1), contract.ErrInvariantViolation)
}

func TestCheckNames(t *testing.T) {
	assert.NoError(t, CheckNames([]contract.FileID{"a/AF.vtk", "a/AF.vtp", "b/CST.vtk"}))
	err := CheckNames([]contract.FileID{"a/AF.vtk", "b/CST.vtk", "c/AF.vtk"})
	assert.ErrorIs(t, err, contract.ErrNameCollision)
}

func TestCheckStems(t *testing.T) {
	idx := Index{
		{Name: "AF.vtk", Order: 0, Length: 1},
		{Name: "AF.vtp", Order: 1, Length: 0},
	}
	// 零长度项不产生文件，不算冲突
	assert.NoError(t, CheckStems(idx, ".vtk"))
	idx[1].Length = 2
	assert.ErrorIs(t, CheckStems(idx, ".vtk"), contract.ErrNameCollision)

	assert.ErrorIs(t, CheckStems(Index{{Name: ".hidden", Length: 1}}, ".vtk"), contract.ErrIndexInvalid)
}

func TestSlices(t *testing.T) {
	got, err := exampleIndex(t).Slices(5)
	require.NoError(t, err)
	assert.Equal(t, []Slice{
		{Name: "A.vtk", Offset: 0, Length: 3},
		{Name: "B.vtk", Offset: 3, Length: 0},
		{Name: "C.vtk", Offset: 3, Length: 2},
	}, got)

	_, err = exampleIndex(t).Slices(4)
	assert.ErrorIs(t, err, contract.ErrIndexInvalid, "区间超出 tractogram")
}

// 长度之和在 int 上回绕时不得通过校验
func TestValidateOverflow(t *testing.T) {
	doc := fmt.Sprintf(`{"A.vtk": {"order": 0, "length": 7}, "B.vtk": {"order": 1, "length": %d}, "C.vtk": {"order": 2, "length": %d}}`,
		math.MaxInt64, math.MaxInt64)
	idx, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.ErrorIs(t, idx.Validate(5), contract.ErrIndexInvalid)
	_, err = idx.Slices(5)
	assert.ErrorIs(t, err, contract.ErrIndexInvalid)

	cases := []struct {
		name  string
		idx   Index
		total int
	}{
		{"single too long", Index{{Name: "A.vtk", Length: 6}}, 5},
		{"second exceeds rest", Index{{Name: "A.vtk", Length: 3}, {Name: "B.vtk", Order: 1, Length: 3}}, 5},
		{"max int", Index{{Name: "A.vtk", Length: math.MaxInt}}, 0},
		{"negative", Index{{Name: "A.vtk", Length: -1}, {Name: "B.vtk", Order: 1, Length: 6}}, 5},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.idx.Validate(tt.total), contract.ErrIndexInvalid)
			_, err := tt.idx.Slices(tt.total)
			assert.ErrorIs(t, err, contract.ErrIndexInvalid)
		})
	}
}

func TestEncodeOrdered(t *testing.T) {
	// 键名字典序与 order 相反时，输出仍按 order 排列
	var b Builder
	require.NoError(t, b.Add("Z.vtk", 1))
	require.NoError(t, b.Add("M.vtk", 2))
	require.NoError(t, b.Add("A.vtk", 3))
	out, err := Marshal(b.Index())
	require.NoError(t, err)
	want := "{\n" +
		"  \"Z.vtk\": {\"order\": 0, \"length\": 1},\n" +
		"  \"M.vtk\": {\"order\": 1, \"length\": 2},\n" +
		"  \"A.vtk\": {\"order\": 2, \"length\": 3}\n" +
		"}\n"
	assert.Equal(t, want, string(out))

	// 输出必须是合法 JSON 且可被通用解析器读取
	var generic map[string]map[string]int
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, 2, generic["M.vtk"]["length"])
}

func TestEncodeEmpty(t *testing.T) {
	out, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(out))
	idx, err := Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestDecodeRoundTrip(t *testing.T) {
	want := exampleIndex(t)
	out, err := Marshal(want)
	require.NoError(t, err)
	got, err := Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// 原始工具写出的紧凑格式（键顺序任意）也能读取，并按 order 重排
func TestDecodeCompactUnordered(t *testing.T) {
	doc := `{"C.vtk": {"order": 2, "length": 2}, "A.vtk": {"order": 0, "length": 3}, "B.vtk": {"order": 1, "length": 0}}`
	idx, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.vtk", "B.vtk", "C.vtk"}, []string{idx[0].Name, idx[1].Name, idx[2].Name})
	assert.Equal(t, 5, idx.Total())
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not object", `[1,2]`},
		{"null", `null`},
		{"unknown field", `{"A.vtk": {"order": 0, "length": 1, "extra": true}}`},
		{"missing length", `{"A.vtk": {"order": 0}}`},
		{"missing order", `{"A.vtk": {"length": 3}}`},
		{"negative length", `{"A.vtk": {"order": 0, "length": -1}}`},
		{"order out of range", `{"A.vtk": {"order": 1, "length": 1}}`},
		{"negative order", `{"A.vtk": {"order": -1, "length": 1}}`},
		{"duplicate order", `{"A.vtk": {"order": 0, "length": 1}, "B.vtk": {"order": 0, "length": 1}}`},
		{"gap", `{"A.vtk": {"order": 0, "length": 1}, "B.vtk": {"order": 2, "length": 1}}`},
		{"empty key", `{"": {"order": 0, "length": 1}}`},
		{"float order", `{"A.vtk": {"order": 0.5, "length": 1}}`},
		{"trailing", `{"A.vtk": {"order": 0, "length": 1}} {}`},
		{"truncated", `{"A.vtk": {"order": 0,`},
		{"duplicate name", `{"A.vtk": {"order": 0, "length": 1}, "A.vtk": {"order": 0, "length": 2}}`},
		{"null entry", `{"A.vtk": null}`},
		{"string", `"A.vtk"`},
		{"empty input", ``},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, contract.ErrIndexInvalid)
		})
	}
}
