package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Dir    string
	Name   string // file name without extension; defaults to "healthwatch"
	Level  string // debug|info|warn|error; defaults to info
	Stderr bool   // also write to stderr
}

// New writes JSON logs to <logDir>/<name>.log with rotation.
func New(name, logDir string) (*zap.Logger, error) {
	return NewWithOptions(Options{Dir: logDir, Name: name})
}

func NewLogger(logDir string) (*zap.Logger, error) {
	return NewWithOptions(Options{Dir: logDir})
}

func NewWithOptions(o Options) (*zap.Logger, error) {
	if o.Dir == "" {
		o.Dir = "logs"
	}
	if o.Name == "" {
		o.Name = "healthwatch"
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(o.Dir, o.Name+".log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	level := ParseLevel(o.Level)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level)
	if o.Stderr {
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), level))
	}
	return zap.New(core), nil
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return l
}
