package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text, json
	Output     string `mapstructure:"output"` // stdout, stderr, file
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // 天
	Compress   bool   `mapstructure:"compress"`
}

var base = logrus.New()

// InitLogging 按配置设置全局日志级别、格式和输出
func InitLogging(cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		base.Warnf("无效的日志级别 '%s'，使用 info", cfg.Level)
	}
	base.SetLevel(level)

	timestampFormat := "2006-01-02 15:04:05.000"
	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{TimestampFormat: timestampFormat, FullTimestamp: true})
	default:
		return errors.Errorf("不支持的日志格式: %s", cfg.Format)
	}

	out, err := logOutput(cfg)
	if err != nil {
		return err
	}
	base.SetOutput(out)
	return nil
}

func logOutput(cfg LogConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, errors.New("日志输出为 file 时必须指定 file_path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, errors.Wrap(err, "创建日志目录失败")
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nil, errors.Errorf("不支持的日志输出: %s", cfg.Output)
	}
}

// Logger 带模块名的日志器
type Logger struct {
	entry *logrus.Entry
}

func NewLogger(name string) *Logger {
	return &Logger{entry: base.WithField("module", name)}
}

// NewLoggerWith 使用指定的 logrus 实例，测试中用来捕获输出
func NewLoggerWith(l *logrus.Logger, name string) *Logger {
	return &Logger{entry: l.WithField("module", name)}
}

// WithFields 附加结构化字段
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
