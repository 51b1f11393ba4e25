package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"tractkit/pkg/contract"
	fvtk "tractkit/plugins/format/vtk"
	fvtp "tractkit/plugins/format/vtp"
	rfs "tractkit/plugins/reader/filesystem"
	wfs "tractkit/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewCodec 工厂签名：接收原样 JSON Options。
type NewCodec func(raw json.RawMessage) (contract.Codec, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统 Reader（稳定顺序 + include 过滤）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Format 编解码器注册表，键为格式名（同时也是小写扩展名去掉点）。
var Format = map[string]NewCodec{
	// vtk: legacy VTK POLYDATA
	"vtk": func(raw json.RawMessage) (contract.Codec, error) {
		var opts fvtk.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fvtk.New(&opts)
	},
	// vtp: VTK XML PolyData
	"vtp": func(raw json.RawMessage) (contract.Codec, error) {
		var opts fvtp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fvtp.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// FormatForPath 按扩展名（大小写不敏感）返回格式名。
func FormatForPath(p string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	if _, ok := Format[ext]; !ok || ext == "" {
		return "", fmt.Errorf("%w: no codec for %q", contract.ErrUnsupported, filepath.Base(p))
	}
	return ext, nil
}
