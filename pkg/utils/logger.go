package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig параметры ротации файла логов
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger обертка над logrus с привычным форматным API
type Logger struct {
	logger *logrus.Logger
	file   io.Closer
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger("info")
}

// Default возвращает логгер по умолчанию
func Default() *Logger {
	return defaultLogger
}

// SetDefault заменяет логгер по умолчанию
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

func NewLogger(levelStr string) *Logger {
	l := logrus.New()
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{logger: l}
}

// EnableFileOutput дублирует записи в файл с ротацией через lumberjack
func (l *Logger) EnableFileOutput(cfg LogFileConfig) error {
	if cfg.Path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	l.logger.AddHook(&fileHook{
		writer: rotator,
		formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	})
	l.file = rotator
	return nil
}

// SetOutput перенаправляет консольный вывод (используется в тестах)
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// SetJSON переключает консольный вывод в JSON
func (l *Logger) SetJSON() {
	l.logger.SetFormatter(&logrus.JSONFormatter{})
}

// Close закрывает файл логов, если он был открыт
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// WithFields возвращает запись со структурированными полями
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields(fields))
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.logger.Warnf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.logger.Errorf(format, v...)
}

// fileHook пишет каждую запись в файл своим форматтером
type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	data, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(data)
	return err
}

// LogDebug пишет в логгер по умолчанию
func LogDebug(msg string) {
	defaultLogger.Debug("%s", msg)
}
