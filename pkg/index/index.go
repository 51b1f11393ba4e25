// Package index 定义 bundle 索引（JSON sidecar）：
// 记录拼接输出中每个源 bundle 的位置（order）与 Streamline 数量（length），
// 供拆分时按序还原。
package index

import (
	"fmt"
	"sort"

	"tractkit/pkg/contract"
)

// Entry: 单个源 bundle 的索引项。
// Name 为源文件基名（含原扩展名）；Order 为 0 起的输入位置；Length 为贡献的 Streamline 数。
type Entry struct {
	Name   string
	Order  int
	Length int
}

// Index: 按 Order 升序排列的索引项列表。
// 不变量：Order 构成 0..N-1 的排列；Name 唯一。
type Index []Entry

// Total 返回所有项的 Length 之和。
func (idx Index) Total() int {
	n := 0
	for _, e := range idx {
		n += e.Length
	}
	return n
}

// Validate 校验长度之和与拼接 tractogram 的 Streamline 总数一致。
// 逐项与剩余量比较，累加不会溢出。
func (idx Index) Validate(total int) error {
	sum := 0
	for _, e := range idx {
		if e.Length < 0 || e.Length > total-sum {
			return fmt.Errorf("%w: %q: length %d exceeds the %d streamlines left of %d", contract.ErrIndexInvalid, e.Name, e.Length, total-sum, total)
		}
		sum += e.Length
	}
	if sum != total {
		return fmt.Errorf("%w: lengths sum to %d but tractogram has %d streamlines", contract.ErrIndexInvalid, sum, total)
	}
	return nil
}

// Slice: 拼接 Bundle 中一段连续区间 [Offset, Offset+Length)。
type Slice struct {
	Name   string
	Offset int
	Length int
}

// Slices 按 Order 计算每项的起始偏移。Length 为 0 的项也保留（零宽区间）。
// 任一区间超出 [0,total) 时返回 ErrIndexInvalid。
func (idx Index) Slices(total int) ([]Slice, error) {
	out := make([]Slice, 0, len(idx))
	off := 0
	for _, e := range idx {
		if e.Length < 0 || e.Length > total-off {
			return nil, fmt.Errorf("%w: %q: [%d,+%d) outside %d streamlines", contract.ErrIndexInvalid, e.Name, off, e.Length, total)
		}
		out = append(out, Slice{Name: e.Name, Offset: off, Length: e.Length})
		off += e.Length
	}
	return out, nil
}

// Builder 以输入顺序累积索引项。零值可用。
type Builder struct {
	entries []Entry
	seen    map[string]int
}

// Add 追加一项：键为 name 的基名，order 为当前位置。
// 基名重复返回 ErrNameCollision（不覆盖已有项）。
func (b *Builder) Add(name string, length int) error {
	if length < 0 {
		return fmt.Errorf("%w: negative length %d for %q", contract.ErrInvariantViolation, length, name)
	}
	key := contract.Base(contract.FileID(name))
	if b.seen == nil {
		b.seen = make(map[string]int)
	}
	if prev, ok := b.seen[key]; ok {
		return fmt.Errorf("%w: %q (inputs #%d and #%d)", contract.ErrNameCollision, key, prev, len(b.entries))
	}
	b.seen[key] = len(b.entries)
	b.entries = append(b.entries, Entry{Name: key, Order: len(b.entries), Length: length})
	return nil
}

// Len 返回已累积的项数。
func (b *Builder) Len() int { return len(b.entries) }

// Index 返回当前索引的拷贝。
func (b *Builder) Index() Index {
	out := make(Index, len(b.entries))
	copy(out, b.entries)
	return out
}

// CheckNames 在读取任何输入之前检查基名冲突。
func CheckNames(ids []contract.FileID) error {
	seen := make(map[string]contract.FileID, len(ids))
	for _, id := range ids {
		key := contract.Base(id)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q and %q share basename %q", contract.ErrNameCollision, prev, id, key)
		}
		seen[key] = id
	}
	return nil
}

// CheckStems 检查拆分输出文件名（<stem><ext>）是否冲突，例如 "AF.vtk" 与 "AF.vtp"。
// 仅检查 Length > 0 的项（零长度项不产生文件）。
func CheckStems(idx Index, ext string) error {
	seen := make(map[string]string, len(idx))
	for _, e := range idx {
		if e.Length == 0 {
			continue
		}
		out := contract.Stem(e.Name) + ext
		if contract.Stem(e.Name) == "" {
			return fmt.Errorf("%w: entry %q has an empty stem", contract.ErrIndexInvalid, e.Name)
		}
		if prev, ok := seen[out]; ok {
			return fmt.Errorf("%w: %q and %q both map to %q", contract.ErrNameCollision, prev, e.Name, out)
		}
		seen[out] = e.Name
	}
	return nil
}

// sortByOrder 按 Order 升序排序（Decode 使用）。
func sortByOrder(idx Index) {
	sort.Slice(idx, func(i, j int) bool { return idx[i].Order < idx[j].Order })
}
