package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"tractkit/internal/diag"
	"tractkit/pkg/contract"
	"tractkit/pkg/index"
	"tractkit/pkg/registry"
)

// - 单遍顺序：输入严格按给定顺序读取与拼接，索引 order 即读取顺序。
// - 先检后写：前置条件、名称冲突与索引校验全部通过后才写出任何文件。
// - 首错即止：任一阶段出错立即返回，已写出的文件均经原子替换，不留半成品。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader contract.Reader
	// Writer 以输出目录为根；制品 ID 为相对文件名。
	Writer contract.Writer
	// Codecs 按格式名（"vtk"/"vtp"）索引。
	Codecs map[string]contract.Codec
}

func sanity(comp Components) error {
	if comp.Reader == nil || comp.Writer == nil {
		return fmt.Errorf("%w: reader and writer are required", contract.ErrInvariantViolation)
	}
	if len(comp.Codecs) == 0 {
		return fmt.Errorf("%w: no codecs", contract.ErrInvariantViolation)
	}
	return nil
}

// codecFor 按路径扩展名选择编解码器。
func (c Components) codecFor(p string) (contract.Codec, error) {
	name, err := registry.FormatForPath(p)
	if err != nil {
		return nil, err
	}
	return c.codec(name)
}

func (c Components) codec(name string) (contract.Codec, error) {
	cd, ok := c.Codecs[strings.ToLower(name)]
	if !ok || cd == nil {
		return nil, fmt.Errorf("%w: format %q", contract.ErrUnsupported, name)
	}
	return cd, nil
}

// stage 统一 start/finish/error 的日志与指标记录。
type stage struct {
	logger *diag.Logger
	comp   string
	fileID string
	tm     *diag.Timer
}

func begin(logger *diag.Logger, comp, msg, fileID string, kv map[string]string) *stage {
	return &stage{logger: logger, comp: comp, fileID: fileID, tm: logger.StartWithKV(comp, msg, fileID, kv)}
}

func (s *stage) done(msg string, count int64) {
	s.tm.Finish(msg, count)
	diag.IncOp(s.comp, "finish", "success")
}

func (s *stage) fail(msg string, err error) error {
	code := diag.Classify(err)
	s.logger.ErrorWith(s.comp, string(code), msg+": "+err.Error(), s.tm.Since(), s.fileID)
	diag.IncOp(s.comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(s.comp, string(code))
	}
	return err
}

// readTractogram 读取单个文件 root 并按扩展名解码。
func readTractogram(ctx context.Context, comp Components, p string, logger *diag.Logger) (*contract.Tractogram, error) {
	codec, err := comp.codecFor(p)
	if err != nil {
		return nil, err
	}
	var out *contract.Tractogram
	err = comp.Reader.Iterate(ctx, []string{p}, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		st := begin(logger, "reader", "decode", string(id), nil)
		t, err := codec.Decode(ctx, rc)
		if err != nil {
			return st.fail("decode failed", fmt.Errorf("%s: %w", id, err))
		}
		st.done("decoded", int64(len(t.Bundle)))
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s is not a regular file", contract.ErrInputMissing, p)
	}
	return out, nil
}

// readIndex 读取并严格解码索引 sidecar。
func readIndex(ctx context.Context, comp Components, p string, logger *diag.Logger) (index.Index, error) {
	var idx index.Index
	found := false
	err := comp.Reader.Iterate(ctx, []string{p}, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		st := begin(logger, "index", "load", string(id), nil)
		got, err := index.Decode(rc)
		if err != nil {
			return st.fail("load failed", fmt.Errorf("%s: %w", id, err))
		}
		st.done("loaded", int64(len(got)))
		idx, found = got, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s is not a regular file", contract.ErrInputMissing, p)
	}
	return idx, nil
}

// encodeTo 将编码流经管道直接交给 Writer，避免整份缓存在内存中。
func encodeTo(ctx context.Context, w contract.Writer, id contract.ArtifactID, c contract.Codec, t *contract.Tractogram) error {
	pr, pw := io.Pipe()
	encErr := make(chan error, 1)
	go func() {
		err := c.Encode(ctx, pw, t)
		_ = pw.CloseWithError(err)
		encErr <- err
	}()
	werr := w.Write(ctx, id, pr)
	// Writer 提前返回时解除编码端阻塞
	_ = pr.CloseWithError(errWriterReturned)
	eerr := <-encErr
	if werr != nil {
		return werr
	}
	if eerr != nil && !errors.Is(eerr, errWriterReturned) {
		return eerr
	}
	if errors.Is(eerr, errWriterReturned) {
		return fmt.Errorf("%w: writer stopped reading %s early", contract.ErrInvariantViolation, id)
	}
	return nil
}

var errWriterReturned = errors.New("writer returned")

// writeIndex 写出索引 sidecar。
func writeIndex(ctx context.Context, w contract.Writer, id contract.ArtifactID, idx index.Index) error {
	b, err := index.Marshal(idx)
	if err != nil {
		return err
	}
	return w.Write(ctx, id, bytes.NewReader(b))
}
