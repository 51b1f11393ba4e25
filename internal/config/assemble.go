package config

import (
	"errors"
	"fmt"

	"tractkit/internal/diag"
	"tractkit/internal/pipeline"
	"tractkit/pkg/contract"
	"tractkit/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if lv := cfg.Logging.Level; lv != "" && !diag.ValidLevel(lv) {
		return fmt.Errorf("config: logging.level %q invalid (debug|info|warn|error)", lv)
	}
	if cfg.Logging.MaxBytes < 0 {
		return errors.New("config: logging.max_bytes must be >= 0")
	}
	if name := effName(cfg.OutputFormat, Defaults().OutputFormat); registry.Format[name] == nil {
		return fmt.Errorf("config: output_format %q not registered", name)
	}
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造写入 outputDir 的 Components。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// output_dir 与 exclusive 总由调用方决定，覆盖配置中的同名键。
func Assemble(cfg Config, outputDir string) (pipeline.Components, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, err
	}
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.reader: %w", err)
	}

	wraw, err := SetOption(cfg.Options.Writer, "output_dir", outputDir)
	if err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.writer: %w", err)
	}
	if wraw, err = SetOption(wraw, "exclusive", !Bool(cfg.Overwrite)); err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.writer: %w", err)
	}
	w, err := registry.Writer[wn](wraw)
	if err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.writer: %w", err)
	}

	codecs := make(map[string]contract.Codec, len(registry.Format))
	for name, newCodec := range registry.Format {
		c, err := newCodec(cfg.Options.Format(name))
		if err != nil {
			return pipeline.Components{}, fmt.Errorf("config: options.%s: %w", name, err)
		}
		codecs[name] = c
	}
	return pipeline.Components{Reader: r, Writer: w, Codecs: codecs}, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
