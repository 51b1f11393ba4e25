package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"tractkit/internal/diag"
	"tractkit/internal/preflight"
	"tractkit/pkg/contract"
	"tractkit/pkg/index"
)

// ConcatSettings 拼接运行期配置。
type ConcatSettings struct {
	// Inputs: 文件或目录，按给定顺序拼接。
	Inputs []string
	// Output: 合并后的 tractogram 路径；扩展名决定输出格式。
	Output    string
	Overwrite bool
	// Counted 在全部输入读完、写出之前以合并后的 Streamline 数调用（可为 nil）。
	Counted func(streamlines int)
}

// ConcatResult 拼接结果。
type ConcatResult struct {
	Streamlines int
	Index       index.Index
	Output      string
	Sidecar     string
	Digest      uint64
}

// SidecarPath 返回输出对应的索引路径：<dir>/<stem>.json。
func SidecarPath(output string) string {
	return filepath.Join(filepath.Dir(output), contract.Stem(output)+".json")
}

// Concatenate 按顺序读取全部输入，写出合并 tractogram 与索引 sidecar。
// comp.Writer 需以 filepath.Dir(set.Output) 为根。
func Concatenate(ctx context.Context, comp Components, set ConcatSettings, logger *diag.Logger) (ConcatResult, error) {
	res := ConcatResult{Output: set.Output, Sidecar: SidecarPath(set.Output)}
	if err := sanity(comp); err != nil {
		return res, fmt.Errorf("sanity: %w", err)
	}
	outCodec, err := comp.codecFor(set.Output)
	if err != nil {
		return res, fmt.Errorf("output: %w", err)
	}
	if contract.Stem(set.Output) == "" {
		return res, fmt.Errorf("output: %w: %q has an empty stem", contract.ErrPathInvalid, set.Output)
	}

	pf := begin(logger, "preflight", "check", "", map[string]string{"inputs": strconv.Itoa(len(set.Inputs))})
	if err := preflight.Inputs(set.Inputs, true); err != nil {
		return res, fmt.Errorf("preflight: %w", pf.fail("inputs", err))
	}
	if err := preflight.Outputs(set.Overwrite, set.Output, res.Sidecar); err != nil {
		return res, fmt.Errorf("preflight: %w", pf.fail("outputs", err))
	}
	planned := 0
	if l, ok := comp.Reader.(contract.Lister); ok {
		ids, err := l.List(ctx, set.Inputs)
		if err != nil {
			return res, fmt.Errorf("preflight: %w", pf.fail("list", err))
		}
		if err := index.CheckNames(ids); err != nil {
			return res, fmt.Errorf("preflight: %w", pf.fail("names", err))
		}
		for _, id := range ids {
			if _, err := comp.codecFor(string(id)); err != nil {
				return res, fmt.Errorf("preflight: %w", pf.fail("format", err))
			}
		}
		planned = len(ids)
	}
	pf.done("ok", int64(planned))

	term := diag.GetTerminal()
	t0 := time.Now()
	term.RunStart("concatenate", planned)

	acc := &contract.Tractogram{Bundle: contract.Bundle{}}
	var b index.Builder
	err = comp.Reader.Iterate(ctx, set.Inputs, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		term.FileStart(string(id))
		f0 := time.Now()
		codec, err := comp.codecFor(string(id))
		if err != nil {
			term.FileFinish(false, 0, time.Since(f0))
			return err
		}
		st := begin(logger, "reader", "decode", string(id), nil)
		t, err := codec.Decode(ctx, rc)
		if err != nil {
			term.FileFinish(false, 0, time.Since(f0))
			return st.fail("decode failed", fmt.Errorf("%s: %w", id, err))
		}
		if err := b.Add(string(id), len(t.Bundle)); err != nil {
			term.FileFinish(false, len(t.Bundle), time.Since(f0))
			return st.fail("index failed", err)
		}
		st.done("decoded", int64(len(t.Bundle)))
		if acc.Header == "" {
			acc.Header = t.Header
		}
		acc.Precision = contract.Wider(acc.Precision, t.Precision)
		acc.Bundle = append(acc.Bundle, t.Bundle...)
		term.Progress(len(acc.Bundle))
		term.FileFinish(true, len(t.Bundle), time.Since(f0))
		return nil
	})
	if err != nil {
		term.RunFinish(false, len(acc.Bundle), time.Since(t0))
		return res, fmt.Errorf("read: %w", err)
	}
	if b.Len() == 0 {
		term.RunFinish(false, 0, time.Since(t0))
		return res, fmt.Errorf("read: %w: no tractograms found under inputs", contract.ErrInputMissing)
	}
	res.Index = b.Index()
	res.Streamlines = len(acc.Bundle)
	if err := res.Index.Validate(res.Streamlines); err != nil {
		term.RunFinish(false, res.Streamlines, time.Since(t0))
		return res, fmt.Errorf("index: %w", err)
	}
	if set.Counted != nil {
		set.Counted(res.Streamlines)
	}

	ws := begin(logger, "writer", "write", set.Output, map[string]string{"precision": acc.Precision.String()})
	if err := encodeTo(ctx, comp.Writer, contract.ArtifactID(filepath.Base(set.Output)), outCodec, acc); err != nil {
		term.RunFinish(false, res.Streamlines, time.Since(t0))
		return res, fmt.Errorf("write: %w", ws.fail("write failed", err))
	}
	ws.done("written", int64(res.Streamlines))

	is := begin(logger, "writer", "write_index", res.Sidecar, nil)
	if err := writeIndex(ctx, comp.Writer, contract.ArtifactID(filepath.Base(res.Sidecar)), res.Index); err != nil {
		term.RunFinish(false, res.Streamlines, time.Since(t0))
		return res, fmt.Errorf("write index: %w", is.fail("write failed", err))
	}
	is.done("written", int64(len(res.Index)))

	res.Digest = contract.Digest(acc.Bundle)
	diag.AddStreamlines("concatenate", res.Streamlines)
	term.RunFinish(true, res.Streamlines, time.Since(t0))
	return res, nil
}
