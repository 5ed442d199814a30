package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[Level]string{
	DEBUG: "\033[36m", // cyan
	INFO:  "\033[32m", // green
	WARN:  "\033[33m", // yellow
	ERROR: "\033[31m", // red
}

const resetColor = "\033[0m"

// 全局日志级别与输出，包级 logger 在 init 时创建，因此每次写日志时读取
var (
	globalLevel atomic.Int32
	outMu       sync.Mutex
	out         io.Writer = os.Stderr
	colored               = true
)

func init() {
	globalLevel.Store(int32(INFO))
}

// SetGlobalLevel 设置全局日志级别
func SetGlobalLevel(level Level) {
	globalLevel.Store(int32(level))
}

// GlobalLevel 当前全局日志级别
func GlobalLevel() Level {
	return Level(globalLevel.Load())
}

// SetOutput 设置日志输出，非终端输出时关闭颜色
func SetOutput(w io.Writer, color bool) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
	colored = color
}

// ParseLevel 解析日志级别字符串，未知值返回 INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger 日志记录器
type Logger struct {
	module string
}

// New 创建新的日志记录器
func New(module string) *Logger {
	return &Logger{module: module}
}

// log 内部日志方法
func (l *Logger) log(level Level, format string, args ...any) {
	if level < GlobalLevel() {
		return
	}

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	levelName := levelNames[level]

	outMu.Lock()
	defer outMu.Unlock()
	if colored {
		fmt.Fprintf(out, "%s%s%s [%s] %s: %s\n",
			levelColors[level], levelName, resetColor,
			timestamp, l.module, msg)
		return
	}
	fmt.Fprintf(out, "%s [%s] %s: %s\n", levelName, timestamp, l.module, msg)
}

// Debug 调试日志
func (l *Logger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Info 信息日志
func (l *Logger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warn 警告日志
func (l *Logger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Error 错误日志
func (l *Logger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// Writer 返回按指定级别写日志的 io.Writer（用于接管 gin 的输出）
func (l *Logger) Writer(level Level) io.Writer {
	return levelWriter{l: l, level: level}
}

type levelWriter struct {
	l     *Logger
	level Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.l.log(w.level, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
