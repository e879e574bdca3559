// Package logger 提供进程级的zap日志单例, 支持控制台与滚动文件双路输出。
package logger

import (
	"os"
	"strings"

	"grid-trading-bot-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var global *zap.SugaredLogger

// InitLogger 按配置构建全局logger。可以重复调用,
// 典型用法是先以默认配置启动, 配置文件加载后再重建一次。
func InitLogger(cfg models.LogConfig) {
	level := parseLevel(cfg.Level)
	output := strings.ToLower(cfg.Output)

	var cores []zapcore.Core
	if output == "file" || output == "both" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder(), zapcore.AddSync(rotator), level))
	}
	// 输出模式无法识别时兜底到控制台
	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stdout), level))
	}

	global = zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
}

// parseLevel 解析日志级别字符串, 无法识别时回退到info
func parseLevel(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// consoleEncoder 控制台输出: 彩色级别, 本地可读时间
func consoleEncoder() zapcore.Encoder {
	c := zap.NewDevelopmentEncoderConfig()
	c.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	c.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(c)
}

// fileEncoder 文件输出: 不带颜色, ISO8601时间, 便于工具解析
func fileEncoder() zapcore.Encoder {
	c := zap.NewProductionEncoderConfig()
	c.EncodeTime = zapcore.ISO8601TimeEncoder
	c.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(c)
}

// S 返回全局的sugared logger, 未初始化时返回一个开发配置的应急实例
func S() *zap.SugaredLogger {
	if global == nil {
		l, _ := zap.NewDevelopment()
		return l.Sugar()
	}
	return global
}
