// Package logger builds the zap logger shared by the CLI and the HTTP server.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger settings.
type Config struct {
	Level      string `env:"LOG_LEVEL" env-default:"info" yaml:"level"`          // debug, info, warn, error
	Encoding   string `env:"LOG_ENCODING" env-default:"console" yaml:"encoding"` // json or console
	OutputPath string `env:"LOG_OUTPUT" yaml:"output"`                           // file path; empty means stdout
}

// New 按配置创建 zap.Logger。
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	name := strings.ToLower(cfg.Level)
	if name == "" {
		name = "info"
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		// 日志器尚未创建，只能写 stderr
		fmt.Fprintf(os.Stderr, "日志级别 %q 无效，使用 info: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "json"
	}
	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}

	zapCfg := zap.Config{
		Level:             level,
		DisableCaller:     true,
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
	}
	log, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("创建日志器失败: %w", err)
	}
	return log, nil
}
