package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// Base 返回 FileID 的基名（含扩展名），用作 bundle 索引的键。
func Base(id FileID) string {
	return path.Base(string(NormalizeFileID(string(id))))
}

// Stem 返回基名中第一个 '.' 之前的部分：
//
//	"AF_L.vtk"      => "AF_L"
//	"AF_L.trk.vtk"  => "AF_L"
//	"dir/.hidden"   => ""
//
// 索引 sidecar（<stem>.json）与拆分输出（<stem>.vtk）均按此规则命名。
func Stem(name string) string {
	b := Base(FileID(name))
	if i := strings.IndexByte(b, '.'); i >= 0 {
		return b[:i]
	}
	return b
}
