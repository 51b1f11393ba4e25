package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogOptions 描述日志去向与级别。
type LogOptions struct {
	// Level: debug|info|warn|error；空值为 warn。
	Level string
	// Dir 非空时写入 Dir 下的轮转文件，否则写 Stderr。
	Dir string
	// MaxBytes: 轮转阈值；<=0 使用 RotatingFile 默认。
	MaxBytes int64
	// Stderr 为空时使用 os.Stderr。
	Stderr io.Writer
}

// Logger 为结构化事件日志：单行 JSON（zerolog），每个进程一个 corr_id。
// 零值与 nil 接收者均为 no-op。
type Logger struct {
	corrID string
	zl     zerolog.Logger
	closer io.Closer
}

// NewLogger 按 opts 创建日志器。
func NewLogger(opts LogOptions) *Logger {
	var w io.Writer = opts.Stderr
	if w == nil {
		w = os.Stderr
	}
	var closer io.Closer
	if strings.TrimSpace(opts.Dir) != "" {
		rf := NewRotatingFile(opts.Dir, opts.MaxBytes)
		w, closer = rf, rf
	}
	return newLogger(w, ParseLevel(opts.Level), closer)
}

// NewWriterLogger 直接写入 w（测试与嵌入使用）。
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(w, ParseLevel(level), nil)
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return newLogger(io.Discard, zerolog.Disabled, nil) }

func newLogger(w io.Writer, lvl zerolog.Level, closer io.Closer) *Logger {
	corr := uuid.NewString()
	zl := zerolog.New(w).Level(lvl).With().Str("corr_id", corr).Logger()
	return &Logger{corrID: corr, zl: zl, closer: closer}
}

// ParseLevel 解析日志级别；无法识别时为 warn。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// ValidLevel 报告 s 是否为可识别的级别（空串视为合法）。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// CorrID 返回本进程的关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Close 关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|error|warn
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Msg    string
	KV     map[string]string
}

func (l *Logger) log(lv zerolog.Level, ev Event) {
	if l == nil || l.corrID == "" {
		return
	}
	e := l.zl.WithLevel(lv)
	if e == nil {
		return
	}
	e = e.Str("ts", NowUTC()).Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS > 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count > 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		e = e.Str("file_id", ev.FileID)
	}
	if len(ev.KV) > 0 {
		d := zerolog.Dict()
		for k, v := range ev.KV {
			d = d.Str(k, v)
		}
		e = e.Dict("kv", d)
	}
	e.Msg(ev.Msg)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", nil)
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	return l.StartWithKV(comp, msg, fileID, nil)
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, kv map[string]string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWith(comp, code, msg, durSince, "")
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID})
}

// Warn 记录 warn 事件（例如覆盖已有输出）。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "warn", Msg: msg, KV: kv})
}

// DebugStart 输出调试级别的 start 类事件。
func (l *Logger) DebugStart(comp, msg, fileID string, kv map[string]string) {
	l.log(zerolog.DebugLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish 与耗时指标；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	ObserveDuration(t.comp, "finish", dur)
	t.l.log(zerolog.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, FileID: t.fileID, Msg: msg})
}

// Since 返回起点，便于 Error 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
