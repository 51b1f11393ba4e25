package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tractkit/internal/cli"
	"tractkit/internal/diag"
	"tractkit/internal/pipeline"
	"tractkit/pkg/contract"
	"tractkit/plugins/format/vtk"
)

func writeVTK(t *testing.T, p string, n int) {
	t.Helper()
	b := make(contract.Bundle, n)
	for i := range b {
		b[i] = contract.Streamline{{float64(i), 0, 0}, {float64(i), 1, 0}}
	}
	c, err := vtk.New(nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.Encode(context.Background(), &buf, &contract.Tractogram{Bundle: b}))
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
}

func setup(t *testing.T) (dir string, sys cli.IO, out, errb *bytes.Buffer) {
	t.Helper()
	dir = t.TempDir()
	out, errb = &bytes.Buffer{}, &bytes.Buffer{}
	sys = cli.IO{Stdout: out, Stderr: errb, Dir: dir}
	writeVTK(t, filepath.Join(dir, "A.vtk"), 3)
	writeVTK(t, filepath.Join(dir, "B.vtk"), 0)
	writeVTK(t, filepath.Join(dir, "C.vtk"), 2)
	return dir, sys, out, errb
}

func TestRunSuccess(t *testing.T) {
	dir, sys, out, _ := setup(t)
	dst := filepath.Join(dir, "all.vtk")
	code := run([]string{
		filepath.Join(dir, "A.vtk"), filepath.Join(dir, "B.vtk"), filepath.Join(dir, "C.vtk"), dst, "--verbose",
	}, sys)
	require.Equal(t, cli.ExitOK, code)
	assert.Equal(t, "Number of streamlines: 5\n", out.String())

	b, err := os.ReadFile(filepath.Join(dir, "all.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"A.vtk":{"order":0,"length":3},"B.vtk":{"order":1,"length":0},"C.vtk":{"order":2,"length":2}}`, string(b))
}

func TestRunOverwrite(t *testing.T) {
	dir, sys, _, errb := setup(t)
	dst := filepath.Join(dir, "all.vtp")
	args := []string{filepath.Join(dir, "A.vtk"), dst}
	require.Equal(t, cli.ExitOK, run(args, sys))

	assert.Equal(t, cli.ExitConfig, run(args, sys), "输出已存在")
	assert.Contains(t, errb.String(), "前置检查失败")
	assert.Equal(t, cli.ExitOK, run(append(args, "--overwrite"), sys))
}

func TestRunPreconditions(t *testing.T) {
	dir, sys, _, _ := setup(t)
	missing := []string{filepath.Join(dir, "A.vtk"), filepath.Join(dir, "nope.vtk"), filepath.Join(dir, "o.vtk")}
	assert.Equal(t, cli.ExitConfig, run(missing, sys))
	_, err := os.Stat(filepath.Join(dir, "o.vtk"))
	assert.ErrorIs(t, err, os.ErrNotExist, "失败时不得写出")

	noParent := []string{filepath.Join(dir, "A.vtk"), filepath.Join(dir, "sub", "o.vtk")}
	assert.Equal(t, cli.ExitConfig, run(noParent, sys))
}

func TestRunUsage(t *testing.T) {
	dir, sys, _, errb := setup(t)
	assert.Equal(t, cli.ExitUsage, run(nil, sys))
	assert.Equal(t, cli.ExitUsage, run([]string{filepath.Join(dir, "A.vtk")}, sys))
	assert.Equal(t, cli.ExitUsage, run([]string{filepath.Join(dir, "A.vtk"), filepath.Join(dir, "o.trk")}, sys))
	assert.Equal(t, cli.ExitUsage, run([]string{"--bogus"}, sys))
	assert.Equal(t, cli.ExitOK, run([]string{"--help"}, sys))
	assert.Contains(t, errb.String(), "<in_tractogram>... <out_tractogram>")
}

func TestRunConfigError(t *testing.T) {
	dir, sys, _, _ := setup(t)
	sys.Environ = []string{"TRACTKIT_VTK_ENCODING=zip"}
	code := run([]string{filepath.Join(dir, "A.vtk"), filepath.Join(dir, "o.vtk")}, sys)
	assert.Equal(t, cli.ExitConfig, code, "装配失败")

	sys.Environ = nil
	code = run([]string{"--config", filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "A.vtk"), filepath.Join(dir, "o.vtk")}, sys)
	assert.Equal(t, cli.ExitConfig, code)
}

func TestRunPipelineError(t *testing.T) {
	dir, sys, out, _ := setup(t)
	orig := concatenate
	concatenate = func(ctx context.Context, comp pipeline.Components, set pipeline.ConcatSettings, logger *diag.Logger) (pipeline.ConcatResult, error) {
		return pipeline.ConcatResult{}, errors.New("disk on fire")
	}
	defer func() { concatenate = orig }()

	code := run([]string{filepath.Join(dir, "A.vtk"), filepath.Join(dir, "o.vtk")}, sys)
	assert.Equal(t, cli.ExitRuntime, code)
	assert.Empty(t, out.String())

	// 计数在写出前报告，写出失败时也已输出
	concatenate = func(ctx context.Context, comp pipeline.Components, set pipeline.ConcatSettings, logger *diag.Logger) (pipeline.ConcatResult, error) {
		set.Counted(4)
		return pipeline.ConcatResult{}, errors.New("disk full")
	}
	code = run([]string{filepath.Join(dir, "A.vtk"), filepath.Join(dir, "o.vtk")}, sys)
	assert.Equal(t, cli.ExitRuntime, code)
	assert.Equal(t, "Number of streamlines: 4\n", out.String())
}

func TestRunInitConfig(t *testing.T) {
	dir, sys, _, _ := setup(t)
	target := filepath.Join(dir, "conf")
	require.Equal(t, cli.ExitOK, run([]string{"--init-config", target}, sys))
	_, err := os.Stat(filepath.Join(target, "tractkit.json"))
	require.NoError(t, err)
}
