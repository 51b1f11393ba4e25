package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tractkit/pkg/contract"
)

// wireEntry 为磁盘上的值对象；指针字段用于区分“缺失”与零值。
type wireEntry struct {
	Order  *int `json:"order"`
	Length *int `json:"length"`
}

// Encode 以 JSON 对象写出索引。键按 Order 升序输出（与输入顺序一致），
// 值为 {"order": i, "length": n}。
func Encode(w io.Writer, idx Index) error {
	bw := bufio.NewWriter(w)
	if len(idx) == 0 {
		if _, err := bw.WriteString("{}\n"); err != nil {
			return err
		}
		return bw.Flush()
	}
	sorted := make(Index, len(idx))
	copy(sorted, idx)
	sortByOrder(sorted)

	if _, err := bw.WriteString("{\n"); err != nil {
		return err
	}
	for i, e := range sorted {
		key, err := json.Marshal(e.Name)
		if err != nil {
			return err
		}
		sep := ","
		if i == len(sorted)-1 {
			sep = ""
		}
		if _, err := fmt.Fprintf(bw, "  %s: {\"order\": %d, \"length\": %d}%s\n", key, e.Order, e.Length, sep); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode 严格解析索引：
// - 顶层必须为 JSON 对象，键非空且不重复；
// - 值仅允许 order/length 两个整数字段，且均必须存在；
// - length >= 0；
// - order 必须构成 0..N-1 的排列（不重复、不越界）。
// 返回按 Order 升序的 Index。
func Decode(r io.Reader) (Index, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	raw, err := decodeObject(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrIndexInvalid, err)
	}
	// 不允许尾随内容
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after index object", contract.ErrIndexInvalid)
	}

	n := len(raw)
	slots := make([]*Entry, n)
	for _, kv := range raw {
		name, we := kv.name, kv.entry
		if name == "" {
			return nil, fmt.Errorf("%w: empty bundle name", contract.ErrIndexInvalid)
		}
		if we.Order == nil || we.Length == nil {
			return nil, fmt.Errorf("%w: %q: missing order or length", contract.ErrIndexInvalid, name)
		}
		o, l := *we.Order, *we.Length
		if l < 0 {
			return nil, fmt.Errorf("%w: %q: negative length %d", contract.ErrIndexInvalid, name, l)
		}
		if o < 0 || o >= n {
			return nil, fmt.Errorf("%w: %q: order %d out of range [0,%d)", contract.ErrIndexInvalid, name, o, n)
		}
		if slots[o] != nil {
			return nil, fmt.Errorf("%w: %q and %q share order %d", contract.ErrIndexInvalid, slots[o].Name, name, o)
		}
		slots[o] = &Entry{Name: name, Order: o, Length: l}
	}
	out := make(Index, n)
	for i, e := range slots {
		// n 个键占满 n 个槽位，不会出现空槽
		out[i] = *e
	}
	return out, nil
}

type namedEntry struct {
	name  string
	entry wireEntry
}

// decodeObject 逐个记号读取顶层对象；重复键报错（map 解码会静默保留最后一个）。
func decodeObject(dec *json.Decoder) ([]namedEntry, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("document is not an object")
	}
	var out []namedEntry
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate bundle name %q", name)
		}
		seen[name] = struct{}{}
		var we wireEntry
		if err := dec.Decode(&we); err != nil {
			return nil, fmt.Errorf("%q: %v", name, err)
		}
		out = append(out, namedEntry{name: name, entry: we})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal 为 Encode 的便捷包装。
func Marshal(idx Index) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, idx); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
