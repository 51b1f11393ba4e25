package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tractkit/internal/diag"
	"tractkit/pkg/contract"
	"tractkit/pkg/index"
	"tractkit/plugins/format/vtk"
	"tractkit/plugins/format/vtp"
	rfs "tractkit/plugins/reader/filesystem"
	wfs "tractkit/plugins/writer/filesystem"
)

func components(t *testing.T, outDir string) Components {
	t.Helper()
	r, err := rfs.New(nil)
	require.NoError(t, err)
	w, err := wfs.New(&wfs.Options{OutputDir: outDir})
	require.NoError(t, err)
	vk, _ := vtk.New(nil)
	vp, _ := vtp.New(nil)
	return Components{Reader: r, Writer: w, Codecs: map[string]contract.Codec{"vtk": vk, "vtp": vp}}
}

// bundle 生成 n 条流线，坐标可由 seed 区分，且均可被 float32 精确表示。
func bundle(seed, n int) contract.Bundle {
	b := make(contract.Bundle, n)
	for i := range b {
		s := make(contract.Streamline, i+2)
		for j := range s {
			v := float64(seed*100+i*10+j) + 0.5
			s[j] = contract.Point{v, -v, v / 4}
		}
		b[i] = s
	}
	return b
}

func writeBundle(t *testing.T, p string, prec contract.Precision, b contract.Bundle) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	var buf bytes.Buffer
	var c contract.Codec
	if strings.HasSuffix(p, ".vtp") {
		c, _ = vtp.New(&vtp.Options{Encoding: "binary"})
	} else {
		c, _ = vtk.New(nil)
	}
	require.NoError(t, c.Encode(context.Background(), &buf, &contract.Tractogram{Header: filepath.Base(p), Precision: prec, Bundle: b}))
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
}

func readBundle(t *testing.T, p string) *contract.Tractogram {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	var c contract.Codec
	if strings.HasSuffix(p, ".vtp") {
		c, _ = vtp.New(nil)
	} else {
		c, _ = vtk.New(nil)
	}
	tg, err := c.Decode(context.Background(), f)
	require.NoError(t, err)
	return tg
}

type fixture struct {
	dir     string
	a, b, c string
	out     string
}

// A(3) B(0) C(2)
func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	f := fixture{
		dir: dir,
		a:   filepath.Join(dir, "in", "A.vtk"),
		b:   filepath.Join(dir, "in", "B.vtk"),
		c:   filepath.Join(dir, "in2", "C.vtp"),
		out: filepath.Join(dir, "merged", "all.vtk"),
	}
	writeBundle(t, f.a, contract.Float32, bundle(1, 3))
	writeBundle(t, f.b, contract.Float32, contract.Bundle{})
	writeBundle(t, f.c, contract.Float32, bundle(3, 2))
	require.NoError(t, os.MkdirAll(filepath.Dir(f.out), 0o755))
	return f
}

func (f fixture) concat(t *testing.T, overwrite bool, inputs ...string) (ConcatResult, error) {
	t.Helper()
	if len(inputs) == 0 {
		inputs = []string{f.a, f.b, f.c}
	}
	return Concatenate(context.Background(), components(t, filepath.Dir(f.out)),
		ConcatSettings{Inputs: inputs, Output: f.out, Overwrite: overwrite}, diag.Nop())
}

func (f fixture) divide(t *testing.T, outDir string, set DivideSettings) (DivideResult, error) {
	t.Helper()
	set.Tractogram = f.out
	set.Index = SidecarPath(f.out)
	set.OutDir = outDir
	return Divide(context.Background(), components(t, outDir), set, diag.Nop())
}

func TestConcatenateThenDivide(t *testing.T) {
	f := newFixture(t)
	res, err := f.concat(t, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Streamlines)
	assert.Equal(t, index.Index{
		{Name: "A.vtk", Order: 0, Length: 3},
		{Name: "B.vtk", Order: 1, Length: 0},
		{Name: "C.vtp", Order: 2, Length: 2},
	}, res.Index)
	assert.Equal(t, filepath.Join(f.dir, "merged", "all.json"), res.Sidecar)

	side, err := os.ReadFile(res.Sidecar)
	require.NoError(t, err)
	assert.Equal(t, "{\n"+
		"  \"A.vtk\": {\"order\": 0, \"length\": 3},\n"+
		"  \"B.vtk\": {\"order\": 1, \"length\": 0},\n"+
		"  \"C.vtp\": {\"order\": 2, \"length\": 2}\n"+
		"}\n", string(side))

	merged := readBundle(t, f.out)
	require.Len(t, merged.Bundle, 5)
	assert.Equal(t, "A.vtk", merged.Header, "取第一个非空 header")
	assert.Equal(t, contract.Digest(append(bundle(1, 3), bundle(3, 2)...)), contract.Digest(merged.Bundle))

	outDir := filepath.Join(f.dir, "split")
	dres, err := f.divide(t, outDir, DivideSettings{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A.vtk", "C.vtk"}, dres.Written)
	assert.Equal(t, []string{"B.vtk"}, dres.Skipped)
	assert.Equal(t, contract.Digest(bundle(1, 3)), contract.Digest(readBundle(t, filepath.Join(outDir, "A.vtk")).Bundle))
	assert.Equal(t, contract.Digest(bundle(3, 2)), contract.Digest(readBundle(t, filepath.Join(outDir, "C.vtk")).Bundle))
	_, err = os.Stat(filepath.Join(outDir, "B.vtk"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "零长度项不产生文件")
}

func TestConcatenateDirectoryInput(t *testing.T) {
	f := newFixture(t)
	res, err := f.concat(t, false, filepath.Join(f.dir, "in"), f.c)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.vtk", "B.vtk", "C.vtp"}, []string{res.Index[0].Name, res.Index[1].Name, res.Index[2].Name})
}

func TestConcatenateMixedPrecision(t *testing.T) {
	f := newFixture(t)
	d := filepath.Join(f.dir, "in", "D.vtk")
	writeBundle(t, d, contract.Float64, contract.Bundle{{{0.1, 0.2, 0.3}}})
	_, err := f.concat(t, false, f.a, d)
	require.NoError(t, err)
	merged := readBundle(t, f.out)
	assert.Equal(t, contract.Float64, merged.Precision)
	assert.Equal(t, contract.Point{0.1, 0.2, 0.3}, merged.Bundle[3][0])
}

func TestConcatenateNameCollision(t *testing.T) {
	f := newFixture(t)
	dup := filepath.Join(f.dir, "other", "A.vtk")
	writeBundle(t, dup, contract.Float32, bundle(9, 1))
	_, err := f.concat(t, false, f.a, dup)
	assert.ErrorIs(t, err, contract.ErrNameCollision)
	_, serr := os.Stat(f.out)
	assert.True(t, os.IsNotExist(serr), "冲突时不应写出任何文件")
}

func TestConcatenatePreconditions(t *testing.T) {
	f := newFixture(t)
	_, err := f.concat(t, false, f.a, filepath.Join(f.dir, "nope.vtk"))
	assert.ErrorIs(t, err, contract.ErrInputMissing)

	_, err = f.concat(t, false, filepath.Join(f.dir, "in2"), filepath.Join(f.dir, "empty"))
	assert.ErrorIs(t, err, contract.ErrInputMissing)

	require.NoError(t, os.WriteFile(SidecarPath(f.out), []byte("{}"), 0o644))
	_, err = f.concat(t, false)
	assert.ErrorIs(t, err, contract.ErrOutputExists, "sidecar 已存在")
	_, err = f.concat(t, true)
	assert.NoError(t, err)
	_, err = f.concat(t, false)
	assert.ErrorIs(t, err, contract.ErrOutputExists)

	trk := filepath.Join(f.dir, "in", "x.trk")
	require.NoError(t, os.WriteFile(trk, []byte("x"), 0o644))
	_, err = f.concat(t, true, f.a, trk)
	assert.ErrorIs(t, err, contract.ErrUnsupported)
}

func TestConcatenateDecodeError(t *testing.T) {
	f := newFixture(t)
	bad := filepath.Join(f.dir, "in", "Z.vtk")
	require.NoError(t, os.WriteFile(bad, []byte("not a vtk file\n"), 0o644))
	_, err := f.concat(t, false, f.a, bad)
	assert.ErrorIs(t, err, contract.ErrFormat)
	_, serr := os.Stat(f.out)
	assert.True(t, os.IsNotExist(serr))
}

func TestDivideOverwriteIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.concat(t, false)
	require.NoError(t, err)
	outDir := filepath.Join(f.dir, "split")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	stale := filepath.Join(outDir, "stale.vtk")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	_, err = f.divide(t, outDir, DivideSettings{})
	assert.ErrorIs(t, err, contract.ErrOutputExists)

	first, err := f.divide(t, outDir, DivideSettings{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Cleared)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	a1, _ := os.ReadFile(filepath.Join(outDir, "A.vtk"))

	second, err := f.divide(t, outDir, DivideSettings{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, first.Written, second.Written)
	a2, _ := os.ReadFile(filepath.Join(outDir, "A.vtk"))
	assert.Equal(t, a1, a2)
	ents, _ := os.ReadDir(outDir)
	assert.Len(t, ents, 2)
}

func TestConcatCountedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	calls := 0
	_, err := Concatenate(context.Background(), components(t, filepath.Dir(f.out)), ConcatSettings{
		Inputs: []string{f.a, f.b, f.c},
		Output: f.out,
		Counted: func(n int) {
			calls++
			assert.Equal(t, 5, n)
			assert.NoFileExists(t, f.out, "计数早于写出")
			assert.NoFileExists(t, SidecarPath(f.out))
		},
	}, diag.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.FileExists(t, f.out)
}

func TestDivideInvalidIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.concat(t, false)
	require.NoError(t, err)
	outDir := filepath.Join(f.dir, "split")
	cases := map[string]string{
		"sum mismatch":  `{"A.vtk": {"order": 0, "length": 3}, "C.vtp": {"order": 1, "length": 1}}`,
		"not permuted":  `{"A.vtk": {"order": 0, "length": 3}, "C.vtp": {"order": 2, "length": 2}}`,
		"missing field": `{"A.vtk": {"order": 0}}`,
		"not an object": `[1, 2]`,
		// 7 + 2*MaxInt64 在 int64 上回绕为 5
		"wrapped sum":    `{"A.vtk": {"order": 0, "length": 7}, "B.vtk": {"order": 1, "length": 9223372036854775807}, "C.vtp": {"order": 2, "length": 9223372036854775807}}`,
		"past the end":   `{"A.vtk": {"order": 0, "length": 6}, "C.vtp": {"order": 1, "length": -1}}`,
		"duplicate name": `{"A.vtk": {"order": 0, "length": 3}, "A.vtk": {"order": 0, "length": 5}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(SidecarPath(f.out), []byte(doc), 0o644))
			_, err := f.divide(t, outDir, DivideSettings{})
			assert.ErrorIs(t, err, contract.ErrIndexInvalid)
			_, serr := os.Stat(outDir)
			assert.True(t, os.IsNotExist(serr), "校验失败时不应创建输出目录")
		})
	}
}

func TestDivideStemCollision(t *testing.T) {
	f := newFixture(t)
	writeBundle(t, f.out, contract.Float32, bundle(1, 2))
	require.NoError(t, os.WriteFile(SidecarPath(f.out),
		[]byte(`{"AF.vtk": {"order": 0, "length": 1}, "AF.vtp": {"order": 1, "length": 1}}`), 0o644))
	_, err := f.divide(t, filepath.Join(f.dir, "split"), DivideSettings{})
	assert.ErrorIs(t, err, contract.ErrNameCollision)
}

func TestDivideOutputFormatVTP(t *testing.T) {
	f := newFixture(t)
	_, err := f.concat(t, false)
	require.NoError(t, err)
	outDir := filepath.Join(f.dir, "split")
	res, err := f.divide(t, outDir, DivideSettings{OutputFormat: "VTP", Verify: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A.vtp", "C.vtp"}, res.Written)

	_, err = f.divide(t, filepath.Join(f.dir, "x"), DivideSettings{OutputFormat: "trk"})
	assert.ErrorIs(t, err, contract.ErrUnsupported)
}

func TestDivideRefusesToClearInputs(t *testing.T) {
	f := newFixture(t)
	_, err := f.concat(t, false)
	require.NoError(t, err)
	_, err = f.divide(t, filepath.Dir(f.out), DivideSettings{Overwrite: true})
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
	_, serr := os.Stat(f.out)
	assert.NoError(t, serr)
}

func TestDivideMissingInputs(t *testing.T) {
	f := newFixture(t)
	_, err := f.divide(t, filepath.Join(f.dir, "split"), DivideSettings{})
	assert.ErrorIs(t, err, contract.ErrInputMissing)
}

// 回读校验能发现被篡改的输出
type tamperWriter struct{ contract.Writer }

func (w tamperWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c, _ := vtk.New(nil)
	tg, err := c.Decode(ctx, bytes.NewReader(b))
	if err != nil {
		return err
	}
	tg.Bundle[0][0][0] += 1
	var buf bytes.Buffer
	if err := c.Encode(ctx, &buf, tg); err != nil {
		return err
	}
	return w.Writer.Write(ctx, id, &buf)
}

func TestDivideVerifyDetectsMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.concat(t, false)
	require.NoError(t, err)
	outDir := filepath.Join(f.dir, "split")
	comp := components(t, outDir)
	comp.Writer = tamperWriter{comp.Writer}
	_, err = Divide(context.Background(), comp, DivideSettings{
		Tractogram: f.out, Index: SidecarPath(f.out), OutDir: outDir, Verify: true,
	}, diag.Nop())
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
}

type failCodec struct{ contract.Codec }

func (failCodec) Encode(ctx context.Context, w io.Writer, t *contract.Tractogram) error {
	_, _ = w.Write([]byte("partial"))
	return contract.ErrUnsupported
}

func TestEncodeToFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	comp := components(t, dir)
	err := encodeTo(context.Background(), comp.Writer, "x.vtk", failCodec{}, &contract.Tractogram{})
	assert.ErrorIs(t, err, contract.ErrUnsupported)
	ents, _ := os.ReadDir(dir)
	assert.Empty(t, ents)
}

func TestSanity(t *testing.T) {
	_, err := Concatenate(context.Background(), Components{}, ConcatSettings{}, nil)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	_, err = Divide(context.Background(), Components{}, DivideSettings{}, nil)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
}

func TestStageLogging(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	logger := diag.NewWriterLogger(&buf, "info")
	_, err := Concatenate(context.Background(), components(t, filepath.Dir(f.out)),
		ConcatSettings{Inputs: []string{f.a, filepath.Join(f.dir, "missing.vtk")}, Output: f.out}, logger)
	require.Error(t, err)
	out := buf.String()
	assert.Contains(t, out, `"comp":"preflight"`)
	assert.Contains(t, out, `"code":"precondition"`)
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a/b/c.vtk"))
	assert.True(t, within("/a/b", "/a/b/x/c.vtk"))
	assert.False(t, within("/a/b", "/a/bc.vtk"))
	assert.False(t, within("/a/b", "/a/c/d.vtk"))
}
