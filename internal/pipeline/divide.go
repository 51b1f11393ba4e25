package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tractkit/internal/diag"
	"tractkit/internal/preflight"
	"tractkit/pkg/contract"
	"tractkit/pkg/index"
)

// DefaultOutputFormat 为拆分输出的默认格式。
const DefaultOutputFormat = "vtk"

// DivideSettings 拆分运行期配置。
type DivideSettings struct {
	Tractogram string
	Index      string
	// OutDir 不存在时创建；非空时需要 Overwrite（先清空）。
	OutDir    string
	Overwrite bool
	// Verify: 写出后回读并比对 Digest。
	Verify bool
	// OutputFormat: "vtk"（默认）或 "vtp"。
	OutputFormat string
}

// DivideResult 拆分结果。
type DivideResult struct {
	Streamlines int
	// Written 为写出的文件名（相对 OutDir），按 order。
	Written []string
	// Skipped 为长度为 0、未产生文件的索引项名。
	Skipped []string
	// Cleared 为 overwrite 时删除的既有条目数。
	Cleared int
}

// Divide 按索引把合并 tractogram 拆回各 bundle，写为 <OutDir>/<stem>.<format>。
// comp.Writer 需以 set.OutDir 为根。
func Divide(ctx context.Context, comp Components, set DivideSettings, logger *diag.Logger) (DivideResult, error) {
	var res DivideResult
	if err := sanity(comp); err != nil {
		return res, fmt.Errorf("sanity: %w", err)
	}
	format := strings.ToLower(strings.TrimSpace(set.OutputFormat))
	if format == "" {
		format = DefaultOutputFormat
	}
	outCodec, err := comp.codec(format)
	if err != nil {
		return res, fmt.Errorf("output: %w", err)
	}

	pf := begin(logger, "preflight", "check", "", map[string]string{"out_dir": set.OutDir})
	if err := preflight.Inputs([]string{set.Tractogram, set.Index}, false); err != nil {
		return res, fmt.Errorf("preflight: %w", pf.fail("inputs", err))
	}
	if err := preflight.OutputDir(set.OutDir, set.Overwrite); err != nil {
		return res, fmt.Errorf("preflight: %w", pf.fail("out_dir", err))
	}
	if set.Overwrite {
		for _, p := range []string{set.Tractogram, set.Index} {
			if within(set.OutDir, p) {
				return res, fmt.Errorf("preflight: %w", pf.fail("out_dir",
					fmt.Errorf("%w: input %s lies inside output directory %s", contract.ErrPathInvalid, p, set.OutDir)))
			}
		}
	}
	pf.done("ok", 0)

	tg, err := readTractogram(ctx, comp, set.Tractogram, logger)
	if err != nil {
		return res, fmt.Errorf("read: %w", err)
	}
	idx, err := readIndex(ctx, comp, set.Index, logger)
	if err != nil {
		return res, fmt.Errorf("index: %w", err)
	}
	is := begin(logger, "index", "validate", set.Index, map[string]string{"entries": strconv.Itoa(len(idx))})
	if err := idx.Validate(len(tg.Bundle)); err != nil {
		return res, fmt.Errorf("index: %w", is.fail("validate failed", err))
	}
	if err := index.CheckStems(idx, "."+format); err != nil {
		return res, fmt.Errorf("index: %w", is.fail("validate failed", err))
	}
	slices, err := idx.Slices(len(tg.Bundle))
	if err != nil {
		return res, fmt.Errorf("index: %w", is.fail("validate failed", err))
	}
	is.done("ok", int64(len(tg.Bundle)))
	res.Streamlines = len(tg.Bundle)

	res.Cleared, err = preflight.PrepareDir(set.OutDir, set.Overwrite)
	if err != nil {
		return res, fmt.Errorf("out_dir: %w", err)
	}
	if res.Cleared > 0 {
		logger.Warn("preflight", "cleared output directory", map[string]string{
			"dir": set.OutDir, "entries": strconv.Itoa(res.Cleared),
		})
	}

	term := diag.GetTerminal()
	t0 := time.Now()
	term.RunStart("divide", len(slices))
	for _, s := range slices {
		if err := ctx.Err(); err != nil {
			term.RunFinish(false, res.Streamlines, time.Since(t0))
			return res, err
		}
		term.FileStart(s.Name)
		f0 := time.Now()
		if s.Length == 0 {
			logger.DebugStart("writer", "skip empty bundle", s.Name, nil)
			res.Skipped = append(res.Skipped, s.Name)
			term.FileFinish(true, 0, time.Since(f0))
			continue
		}
		part := &contract.Tractogram{
			Header:    tg.Header,
			Precision: tg.Precision,
			Bundle:    tg.Bundle[s.Offset : s.Offset+s.Length],
		}
		name := contract.Stem(s.Name) + "." + format
		ws := begin(logger, "writer", "write", name, map[string]string{
			"offset": strconv.Itoa(s.Offset), "length": strconv.Itoa(s.Length),
		})
		if err := encodeTo(ctx, comp.Writer, contract.ArtifactID(name), outCodec, part); err != nil {
			term.FileFinish(false, s.Length, time.Since(f0))
			term.RunFinish(false, res.Streamlines, time.Since(t0))
			return res, fmt.Errorf("write: %w", ws.fail("write failed", err))
		}
		ws.done("written", int64(s.Length))
		if set.Verify {
			if err := verify(ctx, comp, filepath.Join(set.OutDir, name), part.Bundle, logger); err != nil {
				term.FileFinish(false, s.Length, time.Since(f0))
				term.RunFinish(false, res.Streamlines, time.Since(t0))
				return res, fmt.Errorf("verify: %w", err)
			}
		}
		res.Written = append(res.Written, name)
		term.FileFinish(true, s.Length, time.Since(f0))
	}
	diag.AddStreamlines("divide", res.Streamlines)
	term.RunFinish(true, res.Streamlines, time.Since(t0))
	return res, nil
}

// verify 回读写出的文件并比对 Digest。
func verify(ctx context.Context, comp Components, p string, want contract.Bundle, logger *diag.Logger) error {
	st := begin(logger, "verify", "digest", p, nil)
	got, err := readTractogram(ctx, comp, p, logger)
	if err != nil {
		return st.fail("read back failed", err)
	}
	if g, w := contract.Digest(got.Bundle), contract.Digest(want); g != w {
		return st.fail("digest mismatch", fmt.Errorf("%w: %s digest %016x, want %016x", contract.ErrInvariantViolation, p, g, w))
	}
	st.done("ok", int64(len(got.Bundle)))
	return nil
}

// within 报告 p 是否位于 dir 之下（按绝对路径比较）。
func within(dir, p string) bool {
	ad, err1 := filepath.Abs(dir)
	ap, err2 := filepath.Abs(p)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(ad, ap)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
