package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
// 布尔项用指针区分“未设置”与显式 false，便于逐层覆盖。
type Config struct {
	Overwrite *bool `json:"overwrite,omitempty"`
	Verbose   *bool `json:"verbose,omitempty"`
	// Verify: 拆分后回读校验（仅 divide-tractograms）。
	Verify *bool `json:"verify,omitempty"`
	// OutputFormat: 拆分输出格式名（vtk|vtp），默认 vtk。
	OutputFormat string `json:"output_format,omitempty"`

	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志级别与可选的轮转文件目录。
type Logging struct {
	Level    string `json:"level,omitempty"`
	Dir      string `json:"dir,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// Metrics: 非空 File 时在退出前写出 Prometheus textfile。
type Metrics struct {
	File string `json:"file,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader,omitempty"`
	Writer string `json:"writer,omitempty"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader,omitempty"`
	Writer json.RawMessage `json:"writer,omitempty"`
	Vtk    json.RawMessage `json:"vtk,omitempty"`
	Vtp    json.RawMessage `json:"vtp,omitempty"`
}

// Format 返回格式名对应的 Options 子树。
func (o Options) Format(name string) json.RawMessage {
	switch name {
	case "vtk":
		return o.Vtk
	case "vtp":
		return o.Vtp
	}
	return nil
}

// SetFormat 设置格式名对应的 Options 子树；未知名忽略。
func (o *Options) SetFormat(name string, raw json.RawMessage) {
	switch name {
	case "vtk":
		o.Vtk = raw
	case "vtp":
		o.Vtp = raw
	}
}

// Bool 返回 p 的值；nil 视为 false。
func Bool(p *bool) bool { return p != nil && *p }

// BoolPtr 便于字面量构造。
func BoolPtr(v bool) *bool { return &v }
