package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为所有配置环境变量的前缀。
const EnvPrefix = "TRACTKIT_"

// DefaultFile 为工作目录下默认读取的配置文件名（若存在）。
const DefaultFile = "tractkit.json"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		OutputFormat: "vtk",
		Logging:      Logging{Level: "warn"},
		Components: Components{
			Reader: "fs",
			Writer: "fs",
		},
	}
}

// Load 从原始 JSON 或文件路径解析 Config（严格拒绝未知字段）。
// raw 优先；.yaml/.yml 文件先经 yaml.v3 转为 JSON 再走同一严格路径。
func Load(path string, raw []byte) (Config, error) {
	var cfg Config
	switch {
	case len(raw) > 0:
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		raw = b
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if raw, err = yamlToJSON(raw); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		if path != "" {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, err
	}
	return cfg, nil
}

// yamlToJSON 将 YAML 文档转换为等价 JSON；空文档视为 {}。
func yamlToJSON(b []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("yaml: top level must be a mapping, got %T", doc)
	}
	return json.Marshal(doc)
}

// Merge 按优先级合并（后者覆盖前者）。
// 标量/字符串为“替换”；Options 子树按顶层键浅合并。
func Merge(base, over Config) Config {
	out := base
	if over.Overwrite != nil {
		out.Overwrite = BoolPtr(*over.Overwrite)
	}
	if over.Verbose != nil {
		out.Verbose = BoolPtr(*over.Verbose)
	}
	if over.Verify != nil {
		out.Verify = BoolPtr(*over.Verify)
	}
	if s := strings.TrimSpace(over.OutputFormat); s != "" {
		out.OutputFormat = strings.ToLower(s)
	}

	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if over.Logging.MaxBytes != 0 {
		out.Logging.MaxBytes = over.Logging.MaxBytes
	}
	if s := strings.TrimSpace(over.Metrics.File); s != "" {
		out.Metrics.File = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	out.Options.Reader = mergeRaw(base.Options.Reader, over.Options.Reader)
	out.Options.Writer = mergeRaw(base.Options.Writer, over.Options.Writer)
	out.Options.Vtk = mergeRaw(base.Options.Vtk, over.Options.Vtk)
	out.Options.Vtp = mergeRaw(base.Options.Vtp, over.Options.Vtp)
	return out
}

// mergeRaw 将 over 的顶层键覆盖到 base 上；任一方不是对象时 over 整体替换。
func mergeRaw(base, over json.RawMessage) json.RawMessage {
	if len(over) == 0 {
		return cloneRaw(base)
	}
	if len(base) == 0 {
		return cloneRaw(over)
	}
	var b, o map[string]json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(over, &o) != nil || b == nil {
		return cloneRaw(over)
	}
	for k, v := range o {
		b[k] = v
	}
	out, err := json.Marshal(b)
	if err != nil {
		return cloneRaw(over)
	}
	return out
}

// SetOption 在 raw 对象上设置单个键（raw 为空时新建对象）。
func SetOption(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	v, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	patch, err := json.Marshal(map[string]json.RawMessage{key: v})
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("options must be a JSON object: %w", err)
		}
	}
	return mergeRaw(raw, patch), nil
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 TRACTKIT_；集合之外的键忽略。布尔值无法解析时报错。
// 支持：LOG_LEVEL, LOG_DIR, OVERWRITE, VERBOSE, VERIFY, METRICS_FILE, OUTPUT_FORMAT,
// READER_INCLUDE, VTK_ENCODING, VTP_ENCODING, COMPONENTS_READER, COMPONENTS_WRITER。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免清空配置文件中的值
			continue
		}
		var err error
		switch key {
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "OVERWRITE":
			over.Overwrite, err = parseBool(key, val)
		case "VERBOSE":
			over.Verbose, err = parseBool(key, val)
		case "VERIFY":
			over.Verify, err = parseBool(key, val)
		case "METRICS_FILE":
			over.Metrics.File = val
		case "OUTPUT_FORMAT":
			over.OutputFormat = val
		case "READER_INCLUDE":
			over.Options.Reader, err = SetOption(over.Options.Reader, "include", val)
		case "VTK_ENCODING":
			over.Options.Vtk, err = SetOption(over.Options.Vtk, "encoding", strings.ToLower(val))
		case "VTP_ENCODING":
			over.Options.Vtp, err = SetOption(over.Options.Vtp, "encoding", strings.ToLower(val))
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		}
		if err != nil {
			return Config{}, err
		}
	}
	return over, nil
}

func parseBool(key, val string) (*bool, error) {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return &b, nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
