package diag

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"tractkit/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown      Code = "unknown"
	CodeInvariant    Code = "invariant"
	CodeIndex        Code = "index"
	CodeFormat       Code = "format"
	CodePrecondition Code = "precondition"
	CodeIO           Code = "io"
	CodeCancel       Code = "cancel"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, contract.ErrIndexInvalid):
		return CodeIndex
	case errors.Is(err, contract.ErrFormat) || errors.Is(err, contract.ErrUnsupported):
		return CodeFormat
	case errors.Is(err, contract.ErrInputMissing),
		errors.Is(err, contract.ErrOutputExists),
		errors.Is(err, contract.ErrNameCollision),
		errors.Is(err, contract.ErrPathInvalid):
		return CodePrecondition
	case errors.Is(err, contract.ErrInvariantViolation):
		return CodeInvariant
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var lerr *os.LinkError
	if errors.As(err, &lerr) {
		return CodeIO
	}
	return CodeUnknown
}

// Precondition 报告 err 是否属于运行前置条件失败（用于退出码 3）。
func Precondition(err error) bool { return Classify(err) == CodePrecondition }

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
