package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 包含所有可配置键（值为默认），便于用户按需修改。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Overwrite:    BoolPtr(false),
		Verbose:      BoolPtr(false),
		Verify:       BoolPtr(false),
		OutputFormat: d.OutputFormat,
		Logging:      Logging{Level: d.Logging.Level, Dir: "", MaxBytes: 0},
		Metrics:      Metrics{File: ""},
		Components:   d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git"],
  "include": "*.{vtk,vtp}"
}`)
	// output_dir 与 exclusive 由命令行决定，模板中不出现
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "buf_size": 262144
}`)
	cfg.Options.Vtk = json.RawMessage(`{"encoding": "binary"}`)
	cfg.Options.Vtp = json.RawMessage(`{"encoding": "ascii"}`)
	return cfg
}
