// Package cli 为 concatenate-tractograms 与 divide-tractograms 提供共享的启动流程：
// 旗标解析、配置分层（默认 < 文件 < ENV < CLI）、日志/终端/指标装配与退出码映射。
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cfgpkg "tractkit/internal/config"
	"tractkit/internal/diag"
	"tractkit/internal/pipeline"
)

// 退出码。
const (
	ExitOK      = 0
	ExitRuntime = 1
	ExitUsage   = 2
	ExitConfig  = 3
)

// IO 为一次命令执行的外部环境（测试可注入）。
type IO struct {
	Stdout io.Writer
	Stderr io.Writer
	// Environ 形如 os.Environ()。
	Environ []string
	// Dir 为查找默认配置与 .env 的目录；空表示当前目录。
	Dir string
}

// Flags 为两个命令共享的旗标集合。
type Flags struct {
	fs *flag.FlagSet

	config       string
	logLevel     string
	metricsFile  string
	encoding     string
	initConfig   string
	outputFormat string
	verbose      bool
	overwrite    bool
	verify       bool
	status       bool

	divider bool
	pos     []string
}

// NewFlags 注册共享旗标；usage 为位置参数说明。
func NewFlags(name, usage string, stderr io.Writer) *Flags {
	f := &Flags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(stderr)
	f.fs.StringVar(&f.config, "config", "", "配置文件路径（.json/.yaml）；缺省读取 ./"+cfgpkg.DefaultFile+"（若存在）")
	f.fs.StringVar(&f.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	f.fs.StringVar(&f.metricsFile, "metrics-file", "", "退出前写出 Prometheus textfile 指标")
	f.fs.StringVar(&f.encoding, "encoding", "", "输出编码 ascii|binary（覆盖输出格式的 encoding 选项）")
	f.fs.StringVar(&f.initConfig, "init-config", "", "在指定目录生成默认配置 "+cfgpkg.DefaultFile+" 后退出（不覆盖已有文件）")
	f.fs.BoolVar(&f.verbose, "verbose", false, "输出进度与 info 级日志")
	f.fs.BoolVar(&f.overwrite, "overwrite", false, "允许覆盖已存在的输出")
	f.fs.BoolVar(&f.status, "status", false, "终端状态提示（stderr）；默认随 --verbose 开启")
	f.fs.Usage = func() {
		fmt.Fprintf(stderr, "用法: %s [flags] %s\n", name, usage)
		f.fs.PrintDefaults()
	}
	return f
}

// Divider 追加 divide-tractograms 专有旗标。
func (f *Flags) Divider() *Flags {
	f.divider = true
	f.fs.BoolVar(&f.verify, "verify", false, "写出后回读校验每个 bundle")
	f.fs.StringVar(&f.outputFormat, "output-format", "", "bundle 输出格式 vtk|vtp（默认 vtk）")
	return f
}

// Parse 解析 args；旗标可出现在位置参数之后，"--" 之后全部视为位置参数。
// 返回非 nil 时附带应使用的退出码。
func (f *Flags) Parse(args []string) (int, error) {
	var pos []string
	for {
		if err := f.fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return ExitOK, err
			}
			return ExitUsage, err
		}
		rest := f.fs.Args()
		if len(rest) == 0 {
			break
		}
		if i := len(args) - len(rest) - 1; i >= 0 && args[i] == "--" {
			pos = append(pos, rest...)
			break
		}
		pos = append(pos, rest[0])
		args = rest[1:]
	}
	f.pos = pos
	return ExitOK, nil
}

// Args 返回位置参数。
func (f *Flags) Args() []string { return f.pos }

// Usage 打印用法。
func (f *Flags) Usage() { f.fs.Usage() }

// InitConfig 返回 --init-config 的目录（未给出为空）。
func (f *Flags) InitConfig() string { return strings.TrimSpace(f.initConfig) }

// set 报告某旗标是否在命令行上显式给出。
func (f *Flags) set(name string) bool {
	found := false
	f.fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// overlay 仅包含命令行显式给出的项。
func (f *Flags) overlay() cfgpkg.Config {
	var over cfgpkg.Config
	if f.set("overwrite") {
		over.Overwrite = cfgpkg.BoolPtr(f.overwrite)
	}
	if f.set("verbose") {
		over.Verbose = cfgpkg.BoolPtr(f.verbose)
	}
	if f.divider && f.set("verify") {
		over.Verify = cfgpkg.BoolPtr(f.verify)
	}
	over.OutputFormat = f.outputFormat
	over.Logging.Level = f.logLevel
	over.Metrics.File = f.metricsFile
	return over
}

// WriteTemplate 在 dir 下生成默认配置（不覆盖已存在文件）。
func WriteTemplate(dir string, sys IO) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(sys.Stderr, "生成默认配置失败: %v\n", err)
		return ExitConfig
	}
	b, err := json.MarshalIndent(cfgpkg.DefaultTemplateConfig(), "", "  ")
	if err != nil {
		fmt.Fprintf(sys.Stderr, "生成默认配置失败: %v\n", err)
		return ExitConfig
	}
	p := filepath.Join(dir, cfgpkg.DefaultFile)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		fmt.Fprintf(sys.Stderr, "生成默认配置失败: %v\n", err)
		return ExitConfig
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		fmt.Fprintf(sys.Stderr, "生成默认配置失败: %v\n", err)
		return ExitConfig
	}
	fmt.Fprintf(sys.Stdout, "%s\n", p)
	return ExitOK
}

// Session 持有一次运行的配置与观测组件。
type Session struct {
	Name   string
	Config cfgpkg.Config
	Logger *diag.Logger

	sys      IO
	encoding string
	start    time.Time
}

// Start 合并配置并装配日志与终端；失败时返回 nil 与退出码。
func Start(name string, f *Flags, sys IO) (*Session, int) {
	start := time.Now()
	// 占位 logger，配置合并完成后按最终级别重建
	boot := diag.NewLogger(diag.LogOptions{Stderr: sys.Stderr})
	fail := func(msg string, err error) (*Session, int) {
		fmt.Fprintf(sys.Stderr, "%s: %v\n", msg, err)
		boot.Error("config", string(diag.CodePrecondition), msg, &start)
		return nil, ExitConfig
	}

	// .env 只补充 ENV 中缺失的键
	environ := append(dotEnv(filepath.Join(sys.Dir, ".env")), sys.Environ...)
	env := lookup(environ)

	var raw []byte
	if s := env(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	path := f.config
	if path == "" {
		path = env(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if p := filepath.Join(sys.Dir, cfgpkg.DefaultFile); fileExists(p) {
			path = p
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.Load(path, raw)
		if err != nil {
			return fail("配置解析失败", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(environ)
	if err != nil {
		return fail("环境变量解析失败", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	cfg = cfgpkg.Merge(cfg, f.overlay())

	enc := strings.ToLower(strings.TrimSpace(f.encoding))
	switch enc {
	case "", "ascii", "binary":
	default:
		return fail("旗标错误", fmt.Errorf("--encoding %q (ascii|binary)", f.encoding))
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		return fail("配置校验失败", err)
	}

	level := cfg.Logging.Level
	if cfgpkg.Bool(cfg.Verbose) && diag.ParseLevel(level) > zerolog.InfoLevel {
		level = "info"
	}
	logger := diag.NewLogger(diag.LogOptions{
		Level:    level,
		Dir:      cfg.Logging.Dir,
		MaxBytes: cfg.Logging.MaxBytes,
		Stderr:   sys.Stderr,
	})
	status := cfgpkg.Bool(cfg.Verbose)
	if f.set("status") {
		status = f.status
	}
	diag.SetTerminal(diag.NewTerminal(sys.Stderr, status))

	s := &Session{Name: name, Config: cfg, Logger: logger, sys: sys, encoding: enc, start: start}
	logger.DebugStart("config", "effective", "", map[string]string{
		"source":        path,
		"overwrite":     strconv.FormatBool(cfgpkg.Bool(cfg.Overwrite)),
		"verify":        strconv.FormatBool(cfgpkg.Bool(cfg.Verify)),
		"output_format": cfg.OutputFormat,
		"log_level":     level,
		"reader":        cfg.Components.Reader,
		"writer":        cfg.Components.Writer,
	})
	return s, ExitOK
}

// Components 装配写入 outputDir 的组件；--encoding 作用于 format 对应的编解码器。
func (s *Session) Components(outputDir, format string) (pipeline.Components, error) {
	cfg := s.Config
	if s.encoding != "" && format != "" {
		raw, err := cfgpkg.SetOption(cfg.Options.Format(format), "encoding", s.encoding)
		if err != nil {
			return pipeline.Components{}, err
		}
		cfg.Options.SetFormat(format, raw)
	}
	return cfgpkg.Assemble(cfg, outputDir)
}

// Fail 记录错误并返回对应退出码。
func (s *Session) Fail(comp string, err error) int {
	code := diag.Classify(err)
	s.Logger.Error(comp, string(code), err.Error(), &s.start)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintf(s.sys.Stderr, "%s: 已取消\n", s.Name)
	} else if diag.Precondition(err) {
		fmt.Fprintf(s.sys.Stderr, "%s: 前置检查失败: %v\n", s.Name, err)
	} else {
		fmt.Fprintf(s.sys.Stderr, "%s: 运行失败: %v\n", s.Name, err)
	}
	return ExitCode(err)
}

// Finish 记录成功的整体耗时。
func (s *Session) Finish(comp string) int {
	diag.IncOp(comp, "finish", "success")
	diag.ObserveDuration(comp, "finish", time.Since(s.start).Milliseconds())
	return ExitOK
}

// Close 写出指标文件并释放日志与终端。
func (s *Session) Close() {
	if p := s.Config.Metrics.File; p != "" {
		if err := diag.WriteMetrics(p); err != nil {
			s.Logger.Warn("metrics", "write textfile failed", map[string]string{"path": p, "err": err.Error()})
		}
	}
	diag.SetTerminal(nil)
	_ = s.Logger.Close()
}

// ExitCode 将错误映射为退出码：前置条件失败为 3，其余运行期错误为 1。
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case diag.Precondition(err):
		return ExitConfig
	default:
		return ExitRuntime
	}
}

func lookup(environ []string) func(string) string {
	return func(key string) string {
		// 靠后的项优先（与 EnvOverlay 的覆盖顺序一致）
		val := ""
		for _, kv := range environ {
			if k, v, ok := strings.Cut(kv, "="); ok && k == key {
				val = v
			}
		}
		return strings.TrimSpace(val)
	}
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// dotEnv 读取简单的 .env 文件，返回 KEY=VALUE 列表；文件不存在或不可读时为空。
// 跳过空行与 # 注释；支持可选前缀 "export "；成对的单/双引号会被去除。
func dotEnv(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		out = append(out, key+"="+val)
	}
	return out
}
