package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autoclip/app/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志文件按天命名，落在固定目录下
const logDir = "data/logs"

// Logger 基于 zap 的日志记录器
// 文件输出时带 lumberjack 体积轮转和按天切分
type Logger struct {
	*zap.Logger
	sugar  *zap.SugaredLogger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 按配置创建日志记录器
// output 为 file 时写入按天命名的日志文件，其余情况写标准输出
func New(cfg config.LogConfig) *Logger {
	level := parseLevel(cfg.Level)
	encoder, consoleEncoder := buildEncoders(cfg.Format)

	if cfg.Output != "file" {
		core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level)
		l := newLogger(core)
		return l
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic("创建日志目录失败: " + err.Error())
	}

	rotator := &lumberjack.Logger{
		Filename:   dailyLogFile(time.Now()),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), level)
	// 调试级别时同时打到标准输出，方便本地排查
	if cfg.Level == "debug" {
		core = zapcore.NewTee(core,
			zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}

	l := newLogger(core)

	// 后台协程在每天零点把写入目标切到新文件
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.rotateDaily(ctx, rotator)

	return l
}

func newLogger(core zapcore.Core) *Logger {
	z := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// buildEncoders 返回文件编码器和控制台编码器
// format 为 json 时文件走 JSON，控制台始终用彩色文本
func buildEncoders(format string) (zapcore.Encoder, zapcore.Encoder) {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleEC := ec
	consoleEC.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEC)

	if format == "json" {
		return zapcore.NewJSONEncoder(ec), consoleEncoder
	}
	return zapcore.NewConsoleEncoder(consoleEC), consoleEncoder
}

func dailyLogFile(t time.Time) string {
	return filepath.Join(logDir, "autoclip-"+t.Format("2006-01-02")+".log")
}

// rotateDaily 在每天零点切换日志文件名
func (l *Logger) rotateDaily(ctx context.Context, rotator *lumberjack.Logger) {
	defer l.wg.Done()

	for {
		now := time.Now()
		next := now.AddDate(0, 0, 1)
		midnight := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, next.Location())

		select {
		case <-ctx.Done():
			return
		case <-time.After(midnight.Sub(now) + time.Second):
			rotator.Filename = dailyLogFile(midnight)
			// 关闭旧文件，下一条日志写入新文件
			_ = rotator.Close()
		}
	}
}

// Close 停止后台轮转并刷新缓冲
func (l *Logger) Close() error {
	if l.cancel != nil {
		l.cancel()
		l.wg.Wait()
	}
	return l.Logger.Sync()
}

// Sync 刷新缓冲区
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// 格式化便捷方法
func (l *Logger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

func (l *Logger) Fatalf(template string, args ...interface{}) {
	l.sugar.Fatalf(template, args...)
}

// 结构化便捷方法
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.Logger.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.Logger.Fatal(msg, fields...)
}
