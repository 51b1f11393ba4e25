package contract

import "errors"

var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInputMissing: 输入文件不存在（前置条件）。
	ErrInputMissing = errors.New("input missing")
	// ErrOutputExists: 输出已存在或输出目录非空，且未允许覆盖（前置条件）。
	ErrOutputExists = errors.New("output exists")
	// ErrIndexInvalid: bundle 索引不合法（字段缺失、order 非排列、长度之和不符）。
	ErrIndexInvalid = errors.New("bundle index invalid")
	// ErrNameCollision: 多个输入映射到同一基名（或同一输出文件名）。
	ErrNameCollision = errors.New("name collision")
	// ErrFormat: 文件内容不符合格式约定。
	ErrFormat = errors.New("malformed tractogram")
	// ErrUnsupported: 格式合法但当前实现不支持（如压缩/appended 数据）。
	ErrUnsupported = errors.New("unsupported tractogram feature")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
