package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	logMu          sync.Mutex
	currentLogFile string
	currentDay     string
	fileWriter     *lumberjack.Logger
	savedConfig    Config
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`             // debug, info, warn, error
	OutputFile string `yaml:"output_file" json:"output_file"` // 为空则只输出到控制台
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // MB
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"` // 天
	Compress   bool   `yaml:"compress" json:"compress"`
	LogByDay   bool   `yaml:"log_by_day" json:"log_by_day"` // 按日期命名：tradelink_2026-01-02.log
	NoColor    bool   `yaml:"no_color" json:"no_color"`
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// dailyFileName logs/tradelink.log + 2026-01-02 → logs/tradelink_2026-01-02.log
func dailyFileName(basePath, day string) string {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".log"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, day, ext))
}

func newFormatter(cfg Config) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     !cfg.NoColor,
		DisableColors:   cfg.NoColor,
	}
}

// Init 初始化日志系统（同时设置 logrus 全局输出，组件内 logrus.WithField 也写入文件）
func Init(cfg Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	savedConfig = cfg
	return applyLocked(cfg, time.Now())
}

func applyLocked(cfg Config, now time.Time) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		path := cfg.OutputFile
		if cfg.LogByDay {
			currentDay = dayOf(now)
			path = dailyFileName(cfg.OutputFile, currentDay)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
		fileWriter = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
		currentLogFile = path
	}
	out := io.MultiWriter(writers...)

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter(cfg))
	l.SetOutput(out)

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(cfg))

	Logger = l
	return nil
}

// RotateIfDayChanged 日期变化时切换日志文件；返回是否切换
func RotateIfDayChanged(now time.Time) (bool, error) {
	logMu.Lock()
	defer logMu.Unlock()
	if !savedConfig.LogByDay || savedConfig.OutputFile == "" {
		return false, nil
	}
	if dayOf(now) == currentDay {
		return false, nil
	}
	old := currentLogFile
	if err := applyLocked(savedConfig, now); err != nil {
		return false, err
	}
	Logger.Infof("日志文件已切换: %s -> %s", old, currentLogFile)
	return true, nil
}

// StartRotationChecker 后台每分钟检查日期切换，ctx 结束时退出
func StartRotationChecker(ctx context.Context) {
	logMu.Lock()
	enabled := savedConfig.LogByDay && savedConfig.OutputFile != ""
	logMu.Unlock()
	if !enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := RotateIfDayChanged(now); err != nil {
					logrus.Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Close 关闭文件输出
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// GetCurrentLogFile 当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}

func std() *logrus.Logger {
	if Logger != nil {
		return Logger
	}
	return logrus.StandardLogger()
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) { std().Debugf(format, args...) }

// Info 记录 INFO 级别日志
func Info(args ...interface{}) { std().Info(args...) }

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) { std().Infof(format, args...) }

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) { std().Warnf(format, args...) }

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) { std().Errorf(format, args...) }

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	return std().WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std().WithFields(fields)
}
